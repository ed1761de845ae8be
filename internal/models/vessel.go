// Package models defines the wire types of the ARITANA REST API.
package models

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Classification values reported by the API.
const (
	ClassificationLegal   = "legal"
	ClassificationIllegal = "ilegal"
)

// Vessel is a single sighting/classification record.
//
// Latitude and Longitude are nil when the record carries no usable
// coordinate under any of its historical field names.
type Vessel struct {
	ID            string   `json:"id" yaml:"id"`
	Latitude      *float64 `json:"latitude" yaml:"latitude"`
	Longitude     *float64 `json:"longitude" yaml:"longitude"`
	Classificacao string   `json:"classificacao" yaml:"classificacao"`
	Regiao        string   `json:"regiao" yaml:"regiao"`
	Localidade    string   `json:"localidade" yaml:"localidade"`
	DataCadastro  string   `json:"data_cadastro" yaml:"data_cadastro"`
	DataFoto      string   `json:"data_foto,omitempty" yaml:"data_foto,omitempty"`
	ImagemURL     string   `json:"imagem_url,omitempty" yaml:"imagem_url,omitempty"`
}

// IsLegal reports whether the vessel is classified as legal.
func (v Vessel) IsLegal() bool {
	return strings.EqualFold(v.Classificacao, ClassificationLegal)
}

// IsIllegal reports whether the vessel is classified as illegal.
func (v Vessel) IsIllegal() bool {
	return strings.EqualFold(v.Classificacao, ClassificationIllegal)
}

// HasCoordinates reports whether both coordinates are present.
func (v Vessel) HasCoordinates() bool {
	return v.Latitude != nil && v.Longitude != nil
}

// vesselWire accepts every field name the API has used over time.
type vesselWire struct {
	ID          json.RawMessage `json:"id"`
	Latitude    flexFloat       `json:"latitude"`
	Lat         flexFloat       `json:"lat"`
	Longitude   flexFloat       `json:"longitude"`
	Lng         flexFloat       `json:"lng"`
	Lon         flexFloat       `json:"lon"`
	Coordenadas *struct {
		Lat flexFloat `json:"lat"`
		Lng flexFloat `json:"lng"`
	} `json:"coordenadas"`

	Classificacao string `json:"classificacao"`
	Regiao        string `json:"regiao"`
	Localidade    string `json:"localidade"`
	Nome          string `json:"nome"`

	DataCadastro string `json:"data_cadastro"`
	DataRegistro string `json:"data_registro"`
	DataFoto     string `json:"data_foto"`

	ImagemURL string `json:"imagem_url"`
	Imagem    string `json:"imagem"`
	FotoURL   string `json:"foto_url"`
	URLImagem string `json:"url_imagem"`
}

// UnmarshalJSON decodes a vessel, resolving alias fields in the order the
// dashboard pages did: canonical name first, then the older spellings.
func (v *Vessel) UnmarshalJSON(data []byte) error {
	var w vesselWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	id, err := decodeID(w.ID)
	if err != nil {
		return fmt.Errorf("vessel id: %w", err)
	}

	lat := firstValid(w.Latitude, w.Lat)
	lng := firstValid(w.Longitude, w.Lng, w.Lon)
	if w.Coordenadas != nil {
		if lat == nil {
			lat = firstValid(w.Coordenadas.Lat)
		}
		if lng == nil {
			lng = firstValid(w.Coordenadas.Lng)
		}
	}

	*v = Vessel{
		ID:            id,
		Latitude:      lat,
		Longitude:     lng,
		Classificacao: w.Classificacao,
		Regiao:        w.Regiao,
		Localidade:    firstNonEmpty(w.Localidade, w.Nome),
		DataCadastro:  firstNonEmpty(w.DataCadastro, w.DataRegistro),
		DataFoto:      w.DataFoto,
		ImagemURL:     firstNonEmpty(w.ImagemURL, w.Imagem, w.FotoURL, w.URLImagem),
	}
	return nil
}

// decodeID accepts numeric and string ids.
func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// flexFloat decodes a number, a numeric string, or null.
// Zero is treated as absent, matching how the pages tested coordinates.
type flexFloat struct {
	value float64
	valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Unparsable coordinates are dropped rather than failing the whole list.
		return nil
	}
	if val != 0 {
		f.value, f.valid = val, true
	}
	return nil
}

func firstValid(candidates ...flexFloat) *float64 {
	for _, c := range candidates {
		if c.valid {
			v := c.value
			return &v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
