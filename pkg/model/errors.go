package model

import "errors"

// Sentinel error kinds. Callers use errors.Is against
// these; concrete errors returned by components wrap one of them with
// fmt.Errorf("%w: ...", ErrX).
var (
	// ErrConfigInvalid is fatal at startup; nothing else recovers from it.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrSchemaInvalid marks one malformed inbound message; the
	// caller logs and drops it.
	ErrSchemaInvalid = errors.New("schema invalid")

	// ErrDuplicateContext marks a caller contract violation on Enqueue.
	ErrDuplicateContext = errors.New("duplicate context identifier")

	// ErrModelInvalid and ErrIOError mark a failed LoadModel.
	ErrModelInvalid = errors.New("model invalid")
	ErrIOError      = errors.New("io error persisting model or data file")

	// ErrTypeUnsupported, ErrObjectiveMissing, ErrObjectiveUnknown and
	// ErrSolveFailed mark a failed Solve; the worker returns to Idle
	// and no solution is emitted for the provoking context.
	ErrTypeUnsupported  = errors.New("unsupported metric value type")
	ErrObjectiveMissing = errors.New("no objective requested and no default recorded")
	ErrObjectiveUnknown = errors.New("requested objective not defined in model")
	ErrSolveFailed      = errors.New("engine failed to solve")
)
