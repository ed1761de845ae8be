package views

import "github.com/raphaelgruber/aritana/internal/models"

const untitledLocality = "Localidade não informada"

// Marker is one map pin.
type Marker struct {
	ID    string  `json:"id"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Title string  `json:"title"`
	Legal bool    `json:"legal"`
	Color string  `json:"color"`
}

// Markers returns a pin for every vessel with both coordinates.
func Markers(vessels []models.Vessel) []Marker {
	out := make([]Marker, 0, len(vessels))
	for _, v := range vessels {
		if !v.HasCoordinates() {
			continue
		}
		m := Marker{
			ID:    v.ID,
			Lat:   *v.Latitude,
			Lng:   *v.Longitude,
			Title: v.Localidade,
			Legal: v.IsLegal(),
			Color: ColorIllegal,
		}
		if m.Title == "" {
			m.Title = untitledLocality
		}
		if m.Legal {
			m.Color = ColorLegal
		}
		out = append(out, m)
	}
	return out
}
