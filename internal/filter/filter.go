// Package filter decides whether a decoded message is shown and what text
// represents it.
//
// A filter expression is either "path" (pluck mode: print the value at
// path, drop the message when it is absent) or "path=pattern" (search
// mode: print the whole message when the value at path matches pattern,
// case-insensitively). An empty expression prints every message in full.
package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"rabbittail/pkg/cel"
	apperrors "rabbittail/pkg/errors"
	"rabbittail/pkg/models"
)

type Mode int

const (
	ModeAll Mode = iota
	ModePluck
	ModeSearch
)

func (m Mode) String() string {
	switch m {
	case ModePluck:
		return "pluck"
	case ModeSearch:
		return "search"
	default:
		return "all"
	}
}

// Spec is the compiled form of a filter expression.
type Spec struct {
	Path    string
	Pattern *regexp.Regexp
}

func (s Spec) Mode() Mode {
	switch {
	case s.Path == "":
		return ModeAll
	case s.Pattern == nil:
		return ModePluck
	default:
		return ModeSearch
	}
}

// Result is the outcome of applying a filter. Emit is false for dropped
// messages; Text may legitimately be empty when Emit is true.
type Result struct {
	Text string
	Emit bool
}

func drop() Result { return Result{} }

type Filter struct {
	spec   Spec
	where  *cel.Predicate
	pretty bool
}

type Option func(*options) error

type options struct {
	where  string
	pretty bool
}

// WithWhere adds a CEL predicate that must hold before the path filter is
// consulted.
func WithWhere(expression string) Option {
	return func(o *options) error {
		o.where = strings.TrimSpace(expression)
		return nil
	}
}

func WithPretty(pretty bool) Option {
	return func(o *options) error {
		o.pretty = pretty
		return nil
	}
}

// ParseSpec splits "path" or "path=pattern" and compiles the pattern.
func ParseSpec(expression string) (Spec, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return Spec{}, nil
	}

	path, pattern, hasPattern := strings.Cut(expression, "=")
	path = strings.TrimSpace(path)
	if path == "" {
		return Spec{}, apperrors.ErrConfiguration.
			WithMessagef("invalid filter %q: path is empty", expression)
	}
	if !hasPattern {
		return Spec{Path: path}, nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Spec{}, apperrors.ErrConfiguration.
			WithMessagef("invalid filter %q: bad pattern", expression).
			WithCause(err)
	}
	return Spec{Path: path, Pattern: re}, nil
}

// Compile builds a Filter once at startup. All failures are
// ConfigurationErrors.
func Compile(expression string, opts ...Option) (*Filter, error) {
	var o options
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	spec, err := ParseSpec(expression)
	if err != nil {
		return nil, err
	}

	f := &Filter{spec: spec, pretty: o.pretty}

	if o.where != "" {
		eval, err := cel.NewEvaluator()
		if err != nil {
			return nil, apperrors.ErrInternal.WithCause(err)
		}
		predicate, err := eval.CompilePredicate(o.where)
		if err != nil {
			return nil, apperrors.ErrConfiguration.
				WithMessagef("invalid where expression %q", o.where).
				WithCause(err)
		}
		f.where = predicate
	}

	return f, nil
}

func (f *Filter) Spec() Spec {
	return f.spec
}

func (f *Filter) Mode() Mode {
	return f.spec.Mode()
}

// Apply evaluates the filter against msg. Errors are FilterErrors and
// mean the message should be dropped.
func (f *Filter) Apply(ctx context.Context, msg *models.DecodedMessage) (Result, error) {
	if f.where != nil {
		ok, err := f.where.Eval(ctx, msg)
		if err != nil {
			return drop(), apperrors.ErrFilter.
				WithCause(err).
				WithDetail("where", f.where.String())
		}
		if !ok {
			return drop(), nil
		}
	}

	switch f.spec.Mode() {
	case ModePluck:
		value, ok := Resolve(msg.Value(), f.spec.Path)
		if !ok {
			return drop(), nil
		}
		return f.serialize(value)
	case ModeSearch:
		value, ok := Resolve(msg.Value(), f.spec.Path)
		if !f.spec.Pattern.MatchString(Stringify(value, ok)) {
			return drop(), nil
		}
		return f.serialize(msg)
	default:
		return f.serialize(msg)
	}
}

func (f *Filter) serialize(v interface{}) (Result, error) {
	text, err := Serialize(v, f.pretty)
	if err != nil {
		return drop(), apperrors.ErrFilter.WithCause(err)
	}
	return Result{Text: text, Emit: true}, nil
}

// Serialize encodes v as JSON without HTML escaping. Map keys are sorted;
// DecodedMessage fields keep their declaration order.
func Serialize(v interface{}, pretty bool) (string, error) {
	var (
		b   []byte
		err error
	)
	if pretty {
		b, err = json.MarshalIndentWithOption(v, "", "  ", json.DisableHTMLEscape())
	} else {
		b, err = json.MarshalWithOption(v, json.DisableHTMLEscape())
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}
