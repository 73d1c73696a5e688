package cel

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/cel-go/cel"

	"rabbittail/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("content", cel.DynType),
		cel.Variable("properties", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("routingKey", cel.StringType),
		cel.Variable("exchange", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// Predicate is a compiled boolean expression over a DecodedMessage.
type Predicate struct {
	expression string
	program    cel.Program
}

func (p *Predicate) String() string {
	return p.expression
}

// CompilePredicate compiles expression once so it can be evaluated for
// every message without re-parsing.
func (e *Evaluator) CompilePredicate(expression string) (*Predicate, error) {
	ast, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Predicate{expression: expression, program: program}, nil
}

func (e *Evaluator) compile(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return ast, nil
}

func (p *Predicate) Eval(ctx context.Context, msg *models.DecodedMessage) (bool, error) {
	headers, _ := msg.Properties["headers"].(map[string]interface{})

	vars := map[string]interface{}{
		"content":    Native(msg.Content),
		"properties": Native(msg.Properties),
		"headers":    Native(headers),
		"routingKey": msg.RoutingKeyMatched,
		"exchange":   msg.Exchange,
	}

	result, _, err := p.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// Native rewrites decoded JSON numbers into int64 or float64 so CEL sees
// proper numeric values. Maps and slices are rebuilt, never mutated.
func Native(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(string(t), 64); err == nil {
			return f
		}
		return string(t)
	case map[string]interface{}:
		if t == nil {
			return map[string]interface{}{}
		}
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = Native(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = Native(item)
		}
		return out
	case []byte:
		return string(t)
	default:
		return v
	}
}
