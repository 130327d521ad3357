package model

import "time"

// Source identifies which channel produced an E14 record.
type Source string

const (
	SourceTestigo      Source = "TESTIGO"
	SourceOCRTesseract Source = "OCR_TESSERACT"
	SourceOCRVision    Source = "OCR_VISION"
	SourceRNECOfficial Source = "RNEC_OFFICIAL"
)

// sourceTrust orders sources for framing reconciliation comparisons.
// Higher is more trusted. No record is ever discarded over trust.
var sourceTrust = map[Source]int{
	SourceTestigo:      1,
	SourceOCRTesseract: 2,
	SourceOCRVision:    3,
	SourceRNECOfficial: 4,
}

// Trust returns the relative trust rank of the source (0 for unknown).
func (s Source) Trust() int { return sourceTrust[s] }

// Valid reports whether the source is one of the known channels.
func (s Source) Valid() bool { return sourceTrust[s] != 0 }

// SamePhysicalForm reports whether two sources transcribe the same
// physical E14 form, so any disagreement is a transcription error rather
// than genuine cross-source disagreement.
func SamePhysicalForm(a, b Source) bool {
	if a == SourceRNECOfficial || b == SourceRNECOfficial {
		return false
	}
	return a != b
}

// Nivelacion is the E14 leveling summary block.
type Nivelacion struct {
	Sufragantes  int `json:"sufragantes"` // E11 signature count
	VotosEnUrna  int `json:"votos_en_urna"`
	VotosValidos int `json:"votos_validos"`
	VotosBlanco  int `json:"votos_blanco"`
	VotosNulos   int `json:"votos_nulos"`
	NoMarcados   int `json:"no_marcados"`
}

// Recount holds the recount annotation block of the form.
type Recount struct {
	HuboRecuento   bool   `json:"hubo_recuento"`
	SolicitadoPor  string `json:"solicitado_por,omitempty"`
	Representacion string `json:"representacion,omitempty"`
}

// E14Record is one source's transcription of a mesa's tally form.
// Records are append-only: a correction creates a new version for the
// same (mesa_code, source), never mutates an existing row.
type E14Record struct {
	ID               string             `json:"id"`
	MesaCode         string             `json:"mesa_code"`
	Source           Source             `json:"source"`
	Version          int                `json:"version"`
	CandidateVotes   map[string]int     `json:"candidate_votes"`
	Nivelacion       Nivelacion         `json:"nivelacion"`
	FieldConfidence  map[string]float64 `json:"field_confidence,omitempty"`
	OverallConfidence float64           `json:"overall_confidence"`
	Recount          Recount            `json:"recount"`
	JuradosFirmantes int                `json:"jurados_firmantes"`
	JuradosTotal     int                `json:"jurados_total"`
	ReceivedAt       time.Time          `json:"received_at"`
}

// SumCandidates returns the total of all per-candidate counts.
func (r *E14Record) SumCandidates() int {
	total := 0
	for _, v := range r.CandidateVotes {
		total += v
	}
	return total
}
