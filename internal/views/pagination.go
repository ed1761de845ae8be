package views

import (
	"strconv"

	"github.com/raphaelgruber/aritana/internal/models"
)

// pageWindow is how many page numbers are shown on each side of the current one.
const pageWindow = 2

// PageLink is one pagination control.
type PageLink struct {
	Label  string `json:"label"`
	Page   int    `json:"page"`
	Active bool   `json:"active,omitempty"`
}

// Page is one page of the history table.
type Page struct {
	Items       []models.Vessel `json:"items"`
	Number      int             `json:"number"`
	TotalPages  int             `json:"totalPages"`
	TotalItems  int             `json:"totalItems"`
	StartIndex  int             `json:"startIndex"`
	EndIndex    int             `json:"endIndex"`
	HasPrevious bool            `json:"hasPrevious"`
	HasNext     bool            `json:"hasNext"`
	Links       []PageLink      `json:"links"`
}

// Paginate slices vessels into pages of pageSize, clamping page into range.
// StartIndex and EndIndex are 1-based and inclusive, zero when empty.
func Paginate(vessels []models.Vessel, page, pageSize int) Page {
	if pageSize < 1 {
		pageSize = models.DefaultPageSize
	}
	total := len(vessels)
	totalPages := (total + pageSize - 1) / pageSize
	page = clampPage(page, totalPages)

	start := (page - 1) * pageSize
	end := min(start+pageSize, total)
	if start > total {
		start = total
	}

	p := Page{
		Items:       vessels[start:end],
		Number:      page,
		TotalPages:  totalPages,
		TotalItems:  total,
		HasPrevious: page > 1,
		HasNext:     page < totalPages,
		Links:       Links(page, totalPages),
	}
	if end > start {
		p.StartIndex, p.EndIndex = start+1, end
	}
	return p
}

// Links builds the pagination controls: first and previous when not on the
// first page, current±2, next and last when not on the last page.
func Links(current, totalPages int) []PageLink {
	if totalPages < 1 {
		return nil
	}
	current = clampPage(current, totalPages)

	var links []PageLink
	if current > 1 {
		links = append(links,
			PageLink{Label: "<<", Page: 1},
			PageLink{Label: "<", Page: current - 1})
	}
	for i := max(1, current-pageWindow); i <= min(totalPages, current+pageWindow); i++ {
		links = append(links, PageLink{Label: strconv.Itoa(i), Page: i, Active: i == current})
	}
	if current < totalPages {
		links = append(links,
			PageLink{Label: ">", Page: current + 1},
			PageLink{Label: ">>", Page: totalPages})
	}
	return links
}

func clampPage(page, totalPages int) int {
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	return page
}
