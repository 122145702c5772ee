package predicate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator evaluates edge predicates using CEL (Common Expression
// Language). Compiled programs are cached per normalized expression; one
// evaluator is shared by all runs.
type Evaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator creates a predicate evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]cel.Program),
	}
}

// Evaluate runs a predicate against the source node's output and the run's
// entity. An empty expression always passes. The result must be a boolean;
// anything else is an error, which callers treat as a false predicate.
func (e *Evaluator) Evaluate(expr string, output any, entity map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}

	prg, err := e.program(Normalize(expr))
	if err != nil {
		return false, err
	}

	if output == nil {
		output = map[string]any{}
	}
	if entity == nil {
		entity = map[string]any{}
	}

	out, _, err := prg.Eval(map[string]any{
		"output": output,
		"entity": entity,
	})
	if err != nil {
		return false, fmt.Errorf("predicate evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("predicate did not return boolean, got %T", out.Value())
	}

	return result, nil
}

// Normalize rewrites authoring conveniences into CEL syntax: JS strict
// equality (===, !==) and JSONPath-style $.field references.
func Normalize(expr string) string {
	s := strings.ReplaceAll(expr, "!==", "!=")
	s = strings.ReplaceAll(s, "===", "==")
	s = strings.ReplaceAll(s, "$.", "output.")
	return s
}

// program returns the compiled form of a normalized expression, compiling
// and caching on first use.
func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()

	if exists {
		return prg, nil
	}

	prg, err := compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()

	return prg, nil
}

func compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("entity", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("predicate compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return prg, nil
}

// ClearCache drops all compiled programs.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize returns the number of cached programs.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
