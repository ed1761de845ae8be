package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/raphaelgruber/aritana/internal/cache"
	"github.com/raphaelgruber/aritana/internal/models"
	"github.com/raphaelgruber/aritana/internal/monitor"
	"github.com/raphaelgruber/aritana/internal/upload"
	"github.com/raphaelgruber/aritana/internal/views"
)

const (
	maxPageSize = 100
	// uploadOverhead allows for multipart framing and the text fields.
	uploadOverhead = 1 << 20
	// uploadMemory is how much of a multipart body is held in memory before
	// spilling to a temp file.
	uploadMemory = 8 << 20
)

// HistoryResponse is the body of GET /api/history.
type HistoryResponse struct {
	Page       views.Page       `json:"page"`
	Counters   views.CounterSet `json:"counters"`
	Regions    []string         `json:"regions"`
	LastUpdate time.Time        `json:"lastUpdate"`
}

// SummaryResponse is the body of GET /api/summary.
type SummaryResponse struct {
	Counters   views.CounterSet    `json:"counters"`
	Charts     views.ChartSet      `json:"charts"`
	Timeline   views.TimelineChart `json:"timeline"`
	LastUpdate time.Time           `json:"lastUpdate"`
}

// VesselResponse is the body of GET /api/vessels/{id}.
type VesselResponse struct {
	Vessel       models.Vessel `json:"vessel"`
	DataCadastro string        `json:"dataCadastroFormatada"`
	DataFoto     string        `json:"dataFotoFormatada"`
}

// RefreshResponse is the body of POST /api/refresh.
type RefreshResponse struct {
	Vessels    int       `json:"vessels"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// UploadResponse is the body of POST /api/upload.
type UploadResponse struct {
	JobID   string `json:"jobId"`
	Warning string `json:"warning,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := views.Filter{
		Tipo:   q.Get("tipo"),
		Regiao: q.Get("regiao"),
		Busca:  q.Get("busca"),
	}
	page := queryInt(q.Get("page"), 1)
	size := min(queryInt(q.Get("page_size"), models.DefaultPageSize), maxPageSize)

	filtered := views.ApplyFilter(snap.Vessels, filter)
	s.writeJSON(w, http.StatusOK, HistoryResponse{
		Page:       views.Paginate(filtered, page, size),
		Counters:   views.Counters(filtered),
		Regions:    views.Regions(snap.Vessels),
		LastUpdate: snap.LastUpdate,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, SummaryResponse{
		Counters:   views.Counters(snap.Vessels),
		Charts:     views.Charts(snap.Statistics),
		Timeline:   views.Timeline(snap.Vessels),
		LastUpdate: snap.LastUpdate,
	})
}

func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, views.Markers(snap.Vessels))
}

func (s *Server) handleVessel(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	v, found := views.FindVessel(snap.Vessels, chi.URLParam(r, "id"))
	if !found {
		s.writeError(w, http.StatusNotFound, "vessel not found")
		return
	}
	s.writeJSON(w, http.StatusOK, VesselResponse{
		Vessel:       v,
		DataCadastro: views.FormatDateBrazil(v.DataCadastro),
		DataFoto:     views.FormatDateBrazil(v.DataFoto),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.Cache.LoadData(r.Context(), true)
	if err != nil {
		s.logger.Warn("forced refresh failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, RefreshResponse{Vessels: len(snap.Vessels), LastUpdate: snap.LastUpdate})
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.app.Monitor.GetActiveJobs())
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	info, ok := s.app.Monitor.GetJobInfo(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not monitored")
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	s.app.Monitor.RemoveJob(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxSize+uploadOverhead)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, upload.ErrFileTooLarge.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("imagem")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing imagem field")
		return
	}
	defer file.Close()

	req := models.UploadRequest{
		Filename:  header.Filename,
		Size:      header.Size,
		Content:   file,
		Titulo:    r.FormValue("titulo"),
		Descricao: r.FormValue("descricao"),
		Regiao:    r.FormValue("regiao"),
	}

	jobID, warning, err := s.app.Uploader.Submit(r.Context(), req, s.app.Track(monitor.Callbacks{}))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, UploadResponse{JobID: jobID, Warning: string(warning)})
	case errors.Is(err, upload.ErrNotImage):
		s.writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, upload.ErrFileTooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, upload.ErrFileTooSmall):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Warn("upload failed", "file", header.Filename, "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.app.Metrics.Snapshot())
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	s.hub.serve(conn, Message{Type: MessageTypeReady, Data: s.app.Monitor.GetActiveJobs()})
}

// loadSnapshot returns the cached data, writing a 502 when nothing could be
// loaded.
func (s *Server) loadSnapshot(w http.ResponseWriter, r *http.Request) (cache.Snapshot, bool) {
	snap, err := s.app.Cache.LoadData(r.Context(), false)
	if err == nil {
		return snap, true
	}
	if stale, ok := s.app.Cache.Peek(); ok {
		s.logger.Warn("serving stale data", "error", err, "last_update", stale.LastUpdate)
		return stale, true
	}
	s.writeError(w, http.StatusBadGateway, err.Error())
	return cache.Snapshot{}, false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func queryInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
