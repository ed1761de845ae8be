package models

// Statistics is the aggregate breakdown served by /api/graficos/ and embedded
// in /api/cache/. The cache passes it through untouched.
type Statistics struct {
	Legalidade Legality `json:"legalidade" yaml:"legalidade"`
	Regional   Regional `json:"regional" yaml:"regional"`
}

// Legality counts vessels per classification.
type Legality struct {
	Legais  int `json:"legais" yaml:"legais"`
	Ilegais int `json:"ilegais" yaml:"ilegais"`
}

// Total returns legal plus illegal.
func (l Legality) Total() int {
	return l.Legais + l.Ilegais
}

// Regional holds parallel series per region. The label field is named
// "meses" on the wire for historical reasons; it carries region names.
type Regional struct {
	Meses   []string `json:"meses" yaml:"meses"`
	Legais  []int    `json:"legais" yaml:"legais"`
	Ilegais []int    `json:"ilegais" yaml:"ilegais"`
}

// CacheData is the combined payload of /api/cache/.
type CacheData struct {
	Vessels    []Vessel   `json:"embarcacoes" yaml:"embarcacoes"`
	Statistics Statistics `json:"estatisticas" yaml:"estatisticas"`
}
