package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/nebulous-cloud/optimiser-pipeline/pkg/model"
)

// variable is one decision variable of a LinearEngine model.
type variable struct {
	isInt    bool
	min, max float64
	value    float64
}

// term is one coef*name summand of a linear expression.
type term struct {
	coef float64
	name string
}

// objective is one named linear expression, minimised or maximised.
type objective struct {
	maximize bool
	terms    []term
	active   bool
}

// LinearEngine is a small stand-in for the AMPL/MILP engine the
// original NebulOuS solver component drives (original_source/AMPLSolver.*):
// it parses a tiny textual model made of "var", "param" and
// "maximize"/"minimize" declarations. Because every objective is
// linear over a box-constrained domain, the optimum is exact and
// cheap: each variable independently sits at whichever bound the sign
// of its coefficient in the active objective favours — a correct
// vertex-enumeration solve for a separable linear program, not a
// heuristic.
type LinearEngine struct {
	variables  map[string]*variable
	varOrder   []string
	parameters map[string]float64
	strings    map[string]string
	objectives map[string]*objective
	objOrder   []string
}

// NewLinearEngine returns an engine with no problem loaded yet.
func NewLinearEngine() *LinearEngine {
	return &LinearEngine{}
}

var (
	lineSplitRe = regexp.MustCompile(`\r?\n`)
	termRe      = regexp.MustCompile(`([+-])([0-9]*\.?[0-9]*)\*?([A-Za-z_][A-Za-z0-9_]*)`)
)

func (e *LinearEngine) Load(modelSource, dataSource string) error {
	variables := make(map[string]*variable)
	var varOrder []string
	parameters := make(map[string]float64)
	strs := make(map[string]string)
	objectives := make(map[string]*objective)
	var objOrder []string

	for _, raw := range lineSplitRe.Split(modelSource, -1) {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "var":
			if len(fields) < 5 {
				return fmt.Errorf("%w: malformed var declaration %q", model.ErrModelInvalid, line)
			}
			min, err1 := strconv.ParseFloat(fields[3], 64)
			max, err2 := strconv.ParseFloat(fields[4], 64)
			if err1 != nil || err2 != nil {
				return fmt.Errorf("%w: bad bounds in %q", model.ErrModelInvalid, line)
			}
			name := fields[1]
			variables[name] = &variable{
				isInt: fields[2] == "int",
				min:   min,
				max:   max,
				value: min,
			}
			varOrder = append(varOrder, name)
		case "param":
			if len(fields) < 4 || fields[2] != "=" {
				return fmt.Errorf("%w: malformed param declaration %q", model.ErrModelInvalid, line)
			}
			val, err := strconv.ParseFloat(fields[3], 64)
			if err != nil {
				return fmt.Errorf("%w: bad value in %q", model.ErrModelInvalid, line)
			}
			parameters[fields[1]] = val
		case "maximize", "minimize":
			rest := strings.Join(fields[1:], " ")
			idx := strings.Index(rest, ":")
			if idx < 0 {
				return fmt.Errorf("%w: missing ':' in objective %q", model.ErrModelInvalid, line)
			}
			name := strings.TrimSpace(rest[:idx])
			expr := rest[idx+1:]
			terms, err := parseExpr(expr)
			if err != nil {
				return fmt.Errorf("%w: %v", model.ErrModelInvalid, err)
			}
			objectives[name] = &objective{
				maximize: fields[0] == "maximize",
				terms:    terms,
			}
			objOrder = append(objOrder, name)
		default:
			return fmt.Errorf("%w: unrecognised declaration %q", model.ErrModelInvalid, line)
		}
	}
	if len(objectives) == 0 {
		return fmt.Errorf("%w: model defines no objective", model.ErrModelInvalid)
	}

	e.variables = variables
	e.varOrder = varOrder
	e.parameters = parameters
	e.strings = strs
	e.objectives = objectives
	e.objOrder = objOrder

	if dataSource != "" {
		return e.UpdateData(dataSource)
	}
	return nil
}

func parseExpr(expr string) ([]term, error) {
	expr = strings.ReplaceAll(expr, " ", "")
	expr = strings.ReplaceAll(expr, "\t", "")
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if expr[0] != '+' && expr[0] != '-' {
		expr = "+" + expr
	}
	matches := termRe.FindAllStringSubmatch(expr, -1)
	if matches == nil {
		return nil, fmt.Errorf("unparsable expression %q", expr)
	}
	terms := make([]term, 0, len(matches))
	for _, m := range matches {
		sign := 1.0
		if m[1] == "-" {
			sign = -1.0
		}
		coef := 1.0
		if m[2] != "" {
			c, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				return nil, fmt.Errorf("bad coefficient in %q", m[0])
			}
			coef = c
		}
		terms = append(terms, term{coef: sign * coef, name: m[3]})
	}
	return terms, nil
}

// UpdateData re-parses dataSource as a sequence of "param" lines only
// and overwrites the matching parameter values. Applying the same body
// twice is a no-op the second time.
func (e *LinearEngine) UpdateData(dataSource string) error {
	if e.parameters == nil {
		return fmt.Errorf("%w: no model loaded", model.ErrModelInvalid)
	}
	for _, raw := range lineSplitRe.Split(dataSource, -1) {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] != "param" || len(fields) < 4 || fields[2] != "=" {
			return fmt.Errorf("%w: malformed data line %q", model.ErrModelInvalid, line)
		}
		val, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return fmt.Errorf("%w: bad value in %q", model.ErrModelInvalid, line)
		}
		e.parameters[fields[1]] = val
	}
	return nil
}

func (e *LinearEngine) SetParameter(name string, value any) error {
	if e.parameters == nil {
		return fmt.Errorf("%w: no model loaded", model.ErrModelInvalid)
	}
	switch v := value.(type) {
	case int:
		e.parameters[name] = float64(v)
	case int8:
		e.parameters[name] = float64(v)
	case int16:
		e.parameters[name] = float64(v)
	case int32:
		e.parameters[name] = float64(v)
	case int64:
		e.parameters[name] = float64(v)
	case uint:
		e.parameters[name] = float64(v)
	case uint8:
		e.parameters[name] = float64(v)
	case uint16:
		e.parameters[name] = float64(v)
	case uint32:
		e.parameters[name] = float64(v)
	case uint64:
		e.parameters[name] = float64(v)
	case bool:
		if v {
			e.parameters[name] = 1
		} else {
			e.parameters[name] = 0
		}
	case float32:
		e.parameters[name] = float64(v)
	case float64:
		e.parameters[name] = v
	case string:
		e.strings[name] = v
	default:
		return fmt.Errorf("%w: parameter %q has unsupported type %T", model.ErrTypeUnsupported, name, value)
	}
	return nil
}

func (e *LinearEngine) Objectives() []string {
	out := make([]string, len(e.objOrder))
	copy(out, e.objOrder)
	return out
}

func (e *LinearEngine) Variables() []string {
	out := make([]string, len(e.varOrder))
	copy(out, e.varOrder)
	return out
}

func (e *LinearEngine) RestoreObjective(name string) error {
	obj, ok := e.objectives[name]
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrObjectiveUnknown, name)
	}
	obj.active = true
	return nil
}

func (e *LinearEngine) DropObjective(name string) error {
	obj, ok := e.objectives[name]
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrObjectiveUnknown, name)
	}
	obj.active = false
	return nil
}

// SolveActive finds the single active objective and assigns each
// variable to the bound its coefficient favours: for a maximising
// objective a positive coefficient wants the upper bound and a
// negative one the lower bound (and the reverse for minimising). A
// variable absent from the active objective's expression keeps its
// lower bound, which is as good as any other feasible value for it.
func (e *LinearEngine) SolveActive() error {
	var active *objective
	var activeCount int
	for _, obj := range e.objectives {
		if obj.active {
			active = obj
			activeCount++
		}
	}
	if activeCount != 1 {
		return fmt.Errorf("%w: %d objectives active, want exactly 1", model.ErrObjectiveUnknown, activeCount)
	}

	coeffs := make(map[string]float64)
	for _, t := range active.terms {
		if _, isVar := e.variables[t.name]; isVar {
			coeffs[t.name] += t.coef
		}
	}

	for name, v := range e.variables {
		coef := coeffs[name]
		wantMax := coef > 0
		if !active.maximize {
			wantMax = !wantMax
		}
		if coef == 0 {
			v.value = v.min
		} else if wantMax {
			v.value = v.max
		} else {
			v.value = v.min
		}
	}
	return nil
}

func (e *LinearEngine) ObjectiveValue(name string) (float64, error) {
	obj, ok := e.objectives[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", model.ErrObjectiveUnknown, name)
	}
	coefs := make([]float64, len(obj.terms))
	vals := make([]float64, len(obj.terms))
	for i, t := range obj.terms {
		coefs[i] = t.coef
		vals[i] = e.symbolValue(t.name)
	}
	return floats.Dot(coefs, vals), nil
}

func (e *LinearEngine) VariableValue(name string) (float64, error) {
	v, ok := e.variables[name]
	if !ok {
		return 0, fmt.Errorf("%w: variable %q unknown", model.ErrSolveFailed, name)
	}
	return v.value, nil
}

func (e *LinearEngine) symbolValue(name string) float64 {
	if v, ok := e.variables[name]; ok {
		return v.value
	}
	if p, ok := e.parameters[name]; ok {
		return p
	}
	return 0
}
