// Package engine defines the black-box mathematical-programming
// engine boundary that the solver worker drives. The engine's own
// internals and the back-end solver binary are out of scope for this
// repository; this package only fixes the contract a worker
// needs and ships one concrete, swappable implementation.
package engine

// Engine is the minimal surface a solver worker needs from whatever
// mathematical-programming library backs it (AMPL, a MILP solver, ...).
// A worker owns exactly one Engine instance for its lifetime.
type Engine interface {
	// Load parses modelSource (and, if non-empty, dataSource) and
	// replaces any previously loaded problem. It returns an error
	// wrapping model.ErrModelInvalid if the source cannot be parsed.
	Load(modelSource, dataSource string) error

	// UpdateData replaces parameter values from a new data source,
	// without touching variables or objectives. Idempotent when
	// called twice with the same body.
	UpdateData(dataSource string) error

	// SetParameter sets one named parameter to value. Accepted kinds:
	// signed and unsigned integers of any width, bool (coerced to 0/1),
	// float32, float64, string. Any other kind returns an error wrapping
	// model.ErrTypeUnsupported.
	SetParameter(name string, value any) error

	// Objectives lists every objective function name defined in the
	// currently loaded model.
	Objectives() []string

	// Variables lists every decision variable name defined in the
	// currently loaded model.
	Variables() []string

	// RestoreObjective marks name as the active objective to solve.
	// DropObjective marks it inactive. Exactly one objective must be
	// active before SolveActive is called.
	RestoreObjective(name string) error
	DropObjective(name string) error

	// SolveActive runs the engine for whichever single objective is
	// currently active, assigning every variable a value. It returns
	// an error wrapping model.ErrObjectiveUnknown if zero or more than
	// one objective is active, or model.ErrSolveFailed on any other
	// internal failure.
	SolveActive() error

	// ObjectiveValue and VariableValue read back results of the last
	// SolveActive call, evaluated at the variable assignment it chose.
	// ObjectiveValue works for every objective defined in the model,
	// not only the one that was solved for.
	ObjectiveValue(name string) (float64, error)
	VariableValue(name string) (float64, error)
}
