package viewer

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/auditmos/blackbox/logging"
)

var filterEnv, filterEnvErr = cel.NewEnv(
	cel.Variable("ts", cel.StringType),
	cel.Variable("level", cel.StringType),
	cel.Variable("severity", cel.IntType),
	cel.Variable("msg", cel.StringType),
	cel.Variable("code", cel.DynType),
	cel.Variable("stack", cel.StringType),
	cel.Variable("http", cel.MapType(cel.StringType, cel.DynType)),
	cel.Variable("ctx", cel.MapType(cel.StringType, cel.DynType)),
	cel.Variable("trace", cel.MapType(cel.StringType, cel.DynType)),
	cel.Variable("payload", cel.DynType),
)

// Filter is a compiled CEL expression evaluated against each entry, for
// example `severity >= 30 && msg.contains("db")`.
type Filter struct {
	expr string
	prg  cel.Program
}

func CompileFilter(expr string) (*Filter, error) {
	if filterEnvErr != nil {
		return nil, fmt.Errorf("cel env: %w", filterEnvErr)
	}
	ast, iss := filterEnv.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile filter: %w", iss.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter must evaluate to bool, got %s", out)
	}
	prg, err := filterEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

func (f *Filter) String() string { return f.expr }

// Match reports whether the expression is true for entry. Evaluation
// errors, such as a missing payload key, count as no match.
func (f *Filter) Match(entry logging.Entry) bool {
	out, _, err := f.prg.Eval(activation(entry))
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

func activation(e logging.Entry) map[string]any {
	vars := map[string]any{
		"ts":       e.Timestamp,
		"level":    e.Level.String(),
		"severity": int64(e.Level),
		"msg":      e.Message,
		"code":     nil,
		"stack":    e.Stack,
		"http":     map[string]any{},
		"ctx":      map[string]any{},
		"trace":    map[string]any{},
		"payload":  map[string]any{},
	}
	if e.Code != nil {
		vars["code"] = e.Code.Interface()
	}
	if e.Payload != nil {
		vars["payload"] = e.Payload.Interface()
	}
	if h := e.HTTP; h != nil {
		vars["http"] = map[string]any{
			"method":    h.Method,
			"url":       h.URL,
			"status":    int64(h.Status),
			"latencyMs": h.LatencyMS,
		}
	}
	if c := e.Context; c != nil {
		vars["ctx"] = map[string]any{
			"module":  c.Module,
			"file":    c.File,
			"func":    c.Func,
			"line":    int64(c.Line),
			"model":   c.Model,
			"keyMask": c.KeyMask,
		}
	}
	if t := e.Trace; t != nil {
		vars["trace"] = map[string]any{
			"traceId":  t.TraceID,
			"spanId":   t.SpanID,
			"parentId": t.ParentID,
		}
	}
	return vars
}
