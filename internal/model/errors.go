package model

import "github.com/rotisserie/eris"

// Sentinel domain errors. Callers match them with eris.Is; stores and
// engines wrap them with operation context before returning.
var (
	// ErrMalformedRecord rejects an ingest payload at the boundary before
	// anything is persisted (missing or unparseable mesa identity).
	ErrMalformedRecord = eris.New("malformed record")

	// ErrUnknownMesa rejects a payload referencing a mesa that is not in
	// the registry for this cycle.
	ErrUnknownMesa = eris.New("unknown mesa")

	// ErrNotFound is returned for lookups of nonexistent entities.
	ErrNotFound = eris.New("not found")

	// ErrAssignmentConflict is returned when an assignment would
	// double-book a witness, or when a cancellation and an acceptance
	// race. Nothing has been mutated when this error is returned.
	ErrAssignmentConflict = eris.New("assignment conflict")

	// ErrInvalidTransition is returned for incident or assignment status
	// transitions the state machine does not allow.
	ErrInvalidTransition = eris.New("invalid transition")
)
