// Package filter evaluates an optional record filter expression. The
// expression is compiled once at startup rather than per invocation;
// the compiled form is process-wide and safe for concurrent use across
// shards.
package filter

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/cuemby/cdc-streams/pkg/log"
	"github.com/cuemby/cdc-streams/pkg/types"
)

// Env is the expression evaluation context: metadata.*, newImage.*,
// oldImage.*. Built from maps rather than a struct so expression field
// names (camelCase) don't have to match Go export casing.
type Env map[string]any

// Filter is a compiled, concurrency-safe filter expression.
type Filter struct {
	source  string
	program *vm.Program
}

// Compile parses and compiles expression once. Call Evaluate per record
// afterward; the returned *Filter has no mutable state and may be
// shared across every shard's processor.
func Compile(expression string) (*Filter, error) {
	program, err := expr.Compile(expression, expr.Env(Env{}))
	if err != nil {
		return nil, fmt.Errorf("compile filter expression %q: %w", expression, err)
	}
	return &Filter{source: expression, program: program}, nil
}

// Evaluate runs the compiled expression against r and reports whether
// r should be included. Evaluation errors exclude the single record
// (never the whole batch) and are returned for logging by the caller.
func (f *Filter) Evaluate(r *types.Record) (bool, error) {
	env := Env{
		"metadata": map[string]any{
			"operation":                   string(r.Operation),
			"sequenceNumber":              r.SequenceNumber,
			"approximateArrivalTimestamp": r.ArrivalTime.UnixMilli(),
		},
		"newImage": map[string]any(r.NewImage),
		"oldImage": map[string]any(r.OldImage),
	}

	out, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate filter expression %q: %w", f.source, err)
	}
	return truthy(out), nil
}

// truthy coerces an expression result to a boolean: boolean is itself,
// numeric is non-zero, string parses as a boolean, anything else
// non-nil is false with a warning.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case int8, int16, int32, uint, uint8, uint16, uint32, uint64, float32:
		return !reflect.ValueOf(val).IsZero()
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			log.Warn(fmt.Sprintf("filter expression result %q is not a valid boolean string", val))
			return false
		}
		return b
	default:
		log.Warn(fmt.Sprintf("filter expression produced unsupported result type %T", v))
		return false
	}
}
