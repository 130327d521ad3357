package ingest

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

// Submission is the raw payload a channel posts for one E14 form. Field
// names follow the upstream capture tools.
type Submission struct {
	MesaCode          string             `json:"mesa_code"`
	Source            string             `json:"source"`
	CandidateVotes    map[string]int     `json:"candidate_votes"`
	Nivelacion        *model.Nivelacion  `json:"nivelacion"`
	FieldConfidence   map[string]float64 `json:"field_confidence,omitempty"`
	OverallConfidence *float64           `json:"overall_confidence,omitempty"`
	Recount           model.Recount      `json:"recount"`
	JuradosFirmantes  int                `json:"jurados_firmantes"`
	JuradosTotal      int                `json:"jurados_total"`
	ReceivedAt        time.Time          `json:"received_at,omitempty"`
}

// Normalize turns a raw submission into an E14Record, or rejects it with
// model.ErrMalformedRecord. Rejected payloads are never persisted in any
// form. Versioning is left to the store.
func Normalize(sub *Submission) (*model.E14Record, error) {
	if sub == nil {
		return nil, eris.Wrap(model.ErrMalformedRecord, "ingest: empty submission")
	}
	if !model.ValidMesaCode(sub.MesaCode) {
		return nil, eris.Wrapf(model.ErrMalformedRecord, "ingest: mesa code %q", sub.MesaCode)
	}
	src := model.Source(sub.Source)
	if !src.Valid() {
		return nil, eris.Wrapf(model.ErrMalformedRecord, "ingest: source %q", sub.Source)
	}
	if sub.Nivelacion == nil {
		return nil, eris.Wrap(model.ErrMalformedRecord, "ingest: nivelacion block missing")
	}
	if len(sub.CandidateVotes) == 0 {
		return nil, eris.Wrap(model.ErrMalformedRecord, "ingest: no candidate votes")
	}
	for candidate, votes := range sub.CandidateVotes {
		if candidate == "" {
			return nil, eris.Wrap(model.ErrMalformedRecord, "ingest: unnamed candidate")
		}
		if votes < 0 {
			return nil, eris.Wrapf(model.ErrMalformedRecord, "ingest: negative votes for %s", candidate)
		}
	}
	niv := *sub.Nivelacion
	if niv.Sufragantes < 0 || niv.VotosEnUrna < 0 || niv.VotosValidos < 0 ||
		niv.VotosBlanco < 0 || niv.VotosNulos < 0 || niv.NoMarcados < 0 {
		return nil, eris.Wrap(model.ErrMalformedRecord, "ingest: negative nivelacion count")
	}
	if sub.JuradosFirmantes < 0 || sub.JuradosTotal < 0 {
		return nil, eris.Wrap(model.ErrMalformedRecord, "ingest: negative jurado count")
	}

	confidence := overallConfidence(sub)
	if confidence < 0 || confidence > 1 {
		return nil, eris.Wrapf(model.ErrMalformedRecord, "ingest: confidence %.3f out of range", confidence)
	}

	receivedAt := sub.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	votes := make(map[string]int, len(sub.CandidateVotes))
	for c, v := range sub.CandidateVotes {
		votes[c] = v
	}

	return &model.E14Record{
		MesaCode:          sub.MesaCode,
		Source:            src,
		CandidateVotes:    votes,
		Nivelacion:        niv,
		FieldConfidence:   sub.FieldConfidence,
		OverallConfidence: confidence,
		Recount:           sub.Recount,
		JuradosFirmantes:  sub.JuradosFirmantes,
		JuradosTotal:      sub.JuradosTotal,
		ReceivedAt:        receivedAt.UTC(),
	}, nil
}

// overallConfidence resolves the record confidence: explicit value wins,
// then the mean of per-field confidences, then 1.0 (human channels carry
// no OCR uncertainty).
func overallConfidence(sub *Submission) float64 {
	if sub.OverallConfidence != nil {
		return *sub.OverallConfidence
	}
	if len(sub.FieldConfidence) > 0 {
		total := 0.0
		for _, c := range sub.FieldConfidence {
			total += c
		}
		return total / float64(len(sub.FieldConfidence))
	}
	return 1.0
}
