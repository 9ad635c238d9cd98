package webhooks

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
)

// Filters compiles and caches endpoint filter expressions by source.
// Safe for concurrent use.
type Filters struct {
	programs sync.Map // string -> *vm.Program
}

func NewFilters() *Filters { return &Filters{} }

// Compile returns the program for src, compiling it on first use.
func (f *Filters) Compile(src string) (*vm.Program, error) {
	if p, ok := f.programs.Load(src); ok {
		return p.(*vm.Program), nil
	}
	prog, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	actual, _ := f.programs.LoadOrStore(src, prog)
	return actual.(*vm.Program), nil
}

// Match evaluates src against env. An empty filter always matches.
func (f *Filters) Match(src string, env model.Envelope) (bool, error) {
	if src == "" {
		return true, nil
	}
	prog, err := f.Compile(src)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(prog, filterEnv(env))
	if err != nil {
		return false, fmt.Errorf("evaluate filter: %w", err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("filter did not return bool")
	}
	return b, nil
}

func filterEnv(env model.Envelope) map[string]any {
	return map[string]any{
		"event":          env.Event,
		"data":           plainData(env.Data),
		"timestamp":      env.Timestamp,
		"organizationId": env.OrganizationID,
	}
}

// plainData turns typed payloads into maps and slices so expressions can
// address fields by their JSON names. Numbers, including json.Number, come
// out as float64.
func plainData(v any) any {
	switch n := v.(type) {
	case nil, string, float64, bool:
		return v
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
