package models

import (
	"net/url"
	"strconv"
)

// DefaultPageSize is the history table page size.
const DefaultPageSize = 20

// HistoryQuery filters the server-side paginated history.
type HistoryQuery struct {
	Page     int
	PageSize int
	Tipo     string
	Regiao   string
	Busca    string
}

// Values encodes the query for /api/historico/.
func (q HistoryQuery) Values() url.Values {
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size < 1 {
		size = DefaultPageSize
	}
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("page_size", strconv.Itoa(size))
	v.Set("tipo", q.Tipo)
	v.Set("regiao", q.Regiao)
	v.Set("busca", q.Busca)
	return v
}

// HistoryPage is the payload of /api/historico/.
type HistoryPage struct {
	Vessels      []Vessel `json:"embarcacoes"`
	TotalCount   int      `json:"total_count"`
	TotalLegais  int      `json:"total_legais"`
	TotalIlegais int      `json:"total_ilegais"`
	Page         int      `json:"page"`
	TotalPages   int      `json:"total_pages"`
	HasNext      bool     `json:"has_next"`
	HasPrevious  bool     `json:"has_previous"`
	StartIndex   int      `json:"start_index"`
	EndIndex     int      `json:"end_index"`
	Error        string   `json:"error,omitempty"`
}
