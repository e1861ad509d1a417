// Package worker implements the solver worker: it owns one loaded
// optimisation model and, on request, sets parameters, selects an
// objective, drives the engine, and shapes the result into a
// Solution.
package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nebulous-cloud/optimiser-pipeline/internal/logger"
	"github.com/nebulous-cloud/optimiser-pipeline/pkg/engine"
	"github.com/nebulous-cloud/optimiser-pipeline/pkg/model"
)

// State is the worker's lifecycle state.
type State int

const (
	Uninitialised State = iota
	Ready
	Closed
)

// ConstantSpec maps one model constant to the variable whose solved
// value should be fed back into it after a deploying Solve.
type ConstantSpec struct {
	Variable string
	Value    any
}

// ModelRequest carries everything LoadModel needs: the model body, its
// default objective, and optionally a data body and constants map.
type ModelRequest struct {
	ModelFileName    string
	ModelFileContent string
	DefaultObjective string
	DataFileName     string
	DataFileContent  string
	Constants        map[string]ConstantSpec
}

// DataRequest carries one data-file update.
type DataRequest struct {
	FileName string
	Content  string
}

// Worker is one solver worker: it owns an engine instance and a
// working directory, and is driven by exactly one dispatch manager.
// It is not safe for concurrent Solve calls; the dispatch manager must
// serialise access to a given Worker (its busy/idle bookkeeping
// already guarantees this).
type Worker struct {
	ID      string
	workDir string
	eng     engine.Engine

	state                State
	defaultObjective     string
	variablesToConstants map[string]string // variable name -> constant parameter name
	problemDefined       bool

	log *zap.SugaredLogger
}

// New returns a worker that persists model/data files under workDir
// and drives eng. The caller is responsible for creating workDir.
func New(id, workDir string, eng engine.Engine) *Worker {
	return &Worker{
		ID:      id,
		workDir: workDir,
		eng:     eng,
		state:   Uninitialised,
		log:     logger.Log,
	}
}

func (w *Worker) State() State { return w.state }

// LoadModel persists the model (and optional data) body to the
// worker's directory, loads it into the engine, records the default
// objective and builds the variable-to-constant index. On failure the
// problem-defined flag is cleared so subsequent Solve calls no-op.
func (w *Worker) LoadModel(req ModelRequest) error {
	if req.DefaultObjective == "" {
		w.problemDefined = false
		return fmt.Errorf("%w: default objective is required", model.ErrModelInvalid)
	}

	if err := w.persist(req.ModelFileName, req.ModelFileContent); err != nil {
		w.problemDefined = false
		return err
	}
	if req.DataFileName != "" {
		if err := w.persist(req.DataFileName, req.DataFileContent); err != nil {
			w.problemDefined = false
			return err
		}
	}

	if err := w.eng.Load(req.ModelFileContent, req.DataFileContent); err != nil {
		w.problemDefined = false
		return fmt.Errorf("%w: %v", model.ErrModelInvalid, err)
	}

	constants := make(map[string]string, len(req.Constants))
	for cname, spec := range req.Constants {
		if err := w.eng.SetParameter(cname, spec.Value); err != nil {
			w.problemDefined = false
			return fmt.Errorf("%w: constant %q: %v", model.ErrModelInvalid, cname, err)
		}
		constants[spec.Variable] = cname
	}

	w.defaultObjective = req.DefaultObjective
	w.variablesToConstants = constants
	w.problemDefined = true
	w.state = Ready
	if w.log != nil {
		w.log.Infow("model loaded", "worker", w.ID, "defaultObjective", req.DefaultObjective)
	}
	return nil
}

// UpdateData replaces parameter values from a new data body. Legal
// only once a model is loaded (state Ready); idempotent for repeated
// calls with an identical body.
func (w *Worker) UpdateData(req DataRequest) error {
	if !w.problemDefined {
		return fmt.Errorf("%w: no problem loaded", model.ErrIOError)
	}
	if err := w.persist(req.FileName, req.Content); err != nil {
		return err
	}
	if err := w.eng.UpdateData(req.Content); err != nil {
		return fmt.Errorf("%w: %v", model.ErrModelInvalid, err)
	}
	return nil
}

// Solve runs the engine for ctx and returns the shaped Solution. If no
// problem is defined it returns (nil, nil): no error, no solution.
func (w *Worker) Solve(ctx model.ExecutionContext) (*model.Solution, error) {
	if !w.problemDefined {
		return nil, nil
	}

	for name, value := range ctx.Metrics {
		if err := w.eng.SetParameter(name, value); err != nil {
			return nil, fmt.Errorf("%w: metric %q: %v", model.ErrTypeUnsupported, name, err)
		}
	}

	goal := ctx.Objective
	if goal == "" {
		goal = w.defaultObjective
	}
	if goal == "" {
		return nil, model.ErrObjectiveMissing
	}

	found := false
	for _, name := range w.eng.Objectives() {
		if name == goal {
			found = true
			if err := w.eng.RestoreObjective(name); err != nil {
				return nil, fmt.Errorf("%w: %v", model.ErrObjectiveUnknown, err)
			}
		} else if err := w.eng.DropObjective(name); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrObjectiveUnknown, err)
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", model.ErrObjectiveUnknown, goal)
	}

	if err := w.eng.SolveActive(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSolveFailed, err)
	}

	objectiveValues := make(map[string]float64)
	for _, name := range w.eng.Objectives() {
		v, err := w.eng.ObjectiveValue(name)
		if err == nil {
			objectiveValues[name] = v
		}
	}

	variableValues := make(map[string]float64)
	for _, name := range w.eng.Variables() {
		v, err := w.eng.VariableValue(name)
		if err != nil {
			continue
		}
		variableValues[name] = v
		if cname, ok := w.variablesToConstants[name]; ok && ctx.Deploy {
			_ = w.eng.SetParameter(cname, v)
		}
	}

	return &model.Solution{
		PredictionTime:  ctx.PredictionTime,
		Objective:       goal,
		ObjectiveValues: objectiveValues,
		VariableValues:  variableValues,
		Deploy:          ctx.Deploy,
	}, nil
}

// Close transitions the worker to its terminal state. A worker never
// terminates on its own due to a per-Solve failure; only an explicit
// shutdown closes it.
func (w *Worker) Close() {
	w.state = Closed
}

func (w *Worker) persist(fileName, content string) error {
	if fileName == "" {
		return nil
	}
	path := filepath.Join(w.workDir, fileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: %v", model.ErrIOError, err)
	}
	return nil
}
