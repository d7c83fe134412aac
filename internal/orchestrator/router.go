package orchestrator

import (
	"fmt"

	"github.com/dusk-indust/vigil/internal/department"
)

// Router maps source tags to departments and department stages to their
// registered executors.
type Router struct {
	catalog   *department.Catalog
	executors map[string]StageExecutor
}

// NewRouter creates a Router over catalog with an empty executor registry.
func NewRouter(catalog *department.Catalog) *Router {
	return &Router{
		catalog:   catalog,
		executors: make(map[string]StageExecutor),
	}
}

// RegisterExecutor binds an executor to the stage it reports.
func (r *Router) RegisterExecutor(exec StageExecutor) {
	r.executors[exec.Stage()] = exec
}

// Route resolves the department for source and the executor of each of
// its stages, in descriptor order.
func (r *Router) Route(source string) (*department.Descriptor, []StageExecutor, error) {
	d, err := r.catalog.Lookup(source)
	if err != nil {
		return nil, nil, fmt.Errorf("router: %w", err)
	}
	execs := make([]StageExecutor, 0, len(d.Stages))
	for _, stage := range d.Stages {
		exec, ok := r.executors[stage]
		if !ok {
			return nil, nil, fmt.Errorf("router: no executor registered for stage %q of %s", stage, d.Name)
		}
		execs = append(execs, exec)
	}
	return d, execs, nil
}

// Catalog returns the department catalog.
func (r *Router) Catalog() *department.Catalog { return r.catalog }
