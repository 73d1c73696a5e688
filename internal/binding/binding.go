// Package binding parses compact binding specs of the form
// "destination:key1,key2" into a destination and its routing patterns.
package binding

import (
	"errors"
	"fmt"
	"strings"

	apperrors "rabbittail/pkg/errors"
)

const (
	DefaultDelimiter = ":"
	// Wildcard is the AMQP topic pattern that matches every routing key.
	Wildcard = "#"

	patternSeparator = ","
)

// Spec is one destination and the routing patterns bound to it. Pattern
// order is kept for logging only.
type Spec struct {
	Destination string
	Patterns    []string
}

func (s Spec) String() string {
	return s.Destination + DefaultDelimiter + strings.Join(s.Patterns, patternSeparator)
}

// Parser splits binding specs. An empty Wildcard makes the routing
// patterns mandatory.
type Parser struct {
	Delimiter string
	Wildcard  string
}

func DefaultParser() Parser {
	return Parser{Delimiter: DefaultDelimiter, Wildcard: Wildcard}
}

func Parse(raw string) (Spec, error) {
	return DefaultParser().Parse(raw)
}

func (p Parser) Parse(raw string) (Spec, error) {
	delim := p.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}
	if delim == patternSeparator {
		return Spec{}, configError(raw, "delimiter must differ from the routing key separator ','")
	}

	destination, rest, found := strings.Cut(raw, delim)
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return Spec{}, configError(raw, "destination is empty")
	}

	if !found {
		if p.Wildcard == "" {
			return Spec{}, configError(raw, fmt.Sprintf("missing '%s' followed by routing keys", delim))
		}
		return Spec{Destination: destination, Patterns: []string{p.Wildcard}}, nil
	}

	var patterns []string
	for _, key := range strings.Split(rest, patternSeparator) {
		if key = strings.TrimSpace(key); key != "" {
			patterns = append(patterns, key)
		}
	}
	if len(patterns) == 0 {
		return Spec{}, configError(raw, "no routing keys after delimiter")
	}

	return Spec{Destination: destination, Patterns: patterns}, nil
}

// ParseAll parses every raw spec and reports all failures together.
func (p Parser) ParseAll(raws []string) ([]Spec, error) {
	if len(raws) == 0 {
		return nil, apperrors.ErrConfiguration.WithMessage("at least one binding is required")
	}

	specs := make([]Spec, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		spec, err := p.Parse(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return specs, nil
}

// Destinations returns the distinct destinations in first-seen order.
func Destinations(specs []Spec) []string {
	seen := make(map[string]struct{}, len(specs))
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		if _, ok := seen[s.Destination]; ok {
			continue
		}
		seen[s.Destination] = struct{}{}
		out = append(out, s.Destination)
	}
	return out
}

// FromLegacy builds a raw spec from the single-exchange flags.
func FromLegacy(exchange, routingKeys, delimiter string) string {
	if routingKeys == "" {
		return exchange
	}
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return exchange + delimiter + routingKeys
}

func configError(raw, reason string) error {
	return apperrors.ErrConfiguration.
		WithMessagef("invalid binding %q: %s", raw, reason).
		WithDetail("binding", raw)
}
