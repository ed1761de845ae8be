package models

// AnalysisStatus is the job status string reported by the status endpoint.
type AnalysisStatus string

// Server-side analysis states.
const (
	AnalysisPending    AnalysisStatus = "pendente"
	AnalysisProcessing AnalysisStatus = "processando"
	AnalysisDone       AnalysisStatus = "analisada"
	AnalysisError      AnalysisStatus = "erro"
)

// IsTerminal reports whether no further polling is needed.
func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisDone || s == AnalysisError
}

// JobStatus is the payload of /api/jobs/{id}/status/.
type JobStatus struct {
	Status    AnalysisStatus `json:"status" yaml:"status"`
	Progresso int            `json:"progresso" yaml:"progresso"`
	Mensagem  string         `json:"mensagem" yaml:"mensagem"`
	Erro      string         `json:"erro,omitempty" yaml:"erro,omitempty"`
}

// JobSummary is one entry of the /api/jobs/ listing.
type JobSummary struct {
	JobID         string         `json:"job_id" yaml:"job_id"`
	StatusAnalise AnalysisStatus `json:"status_analise" yaml:"status_analise"`
}
