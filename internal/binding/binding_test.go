package binding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "rabbittail/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected Spec
	}{
		{
			name:     "destination with two keys",
			raw:      "orders:created,updated",
			expected: Spec{Destination: "orders", Patterns: []string{"created", "updated"}},
		},
		{
			name:     "no delimiter binds wildcard",
			raw:      "orders",
			expected: Spec{Destination: "orders", Patterns: []string{"#"}},
		},
		{
			name:     "whitespace and empty entries dropped",
			raw:      " orders : created, ,updated ,",
			expected: Spec{Destination: "orders", Patterns: []string{"created", "updated"}},
		},
		{
			name:     "splits on first delimiter only",
			raw:      "audit:user.*:v1,#",
			expected: Spec{Destination: "audit", Patterns: []string{"user.*:v1", "#"}},
		},
		{
			name:     "duplicates kept",
			raw:      "orders:a,a",
			expected: Spec{Destination: "orders", Patterns: []string{"a", "a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, spec)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		parser Parser
		raw    string
	}{
		{"empty destination", DefaultParser(), ":created"},
		{"empty string", DefaultParser(), ""},
		{"only separators", DefaultParser(), "orders: , ,"},
		{"delimiter without keys", DefaultParser(), "orders:"},
		{"explicit pattern required", Parser{Delimiter: ":"}, "orders"},
		{"delimiter collides with separator", Parser{Delimiter: ","}, "orders,a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parser.Parse(tt.raw)
			require.Error(t, err)
			assert.True(t, apperrors.IsConfiguration(err))
		})
	}
}

func TestParseHashDelimiter(t *testing.T) {
	p := Parser{Delimiter: "#", Wildcard: Wildcard}

	spec, err := p.Parse("amq.topic#logs.error,logs.warn")
	require.NoError(t, err)
	assert.Equal(t, Spec{Destination: "amq.topic", Patterns: []string{"logs.error", "logs.warn"}}, spec)
}

func TestParseAll(t *testing.T) {
	specs, err := DefaultParser().ParseAll([]string{"orders:created", "billing"})
	require.NoError(t, err)
	assert.Len(t, specs, 2)

	_, err = DefaultParser().ParseAll([]string{"orders:", ":x", "ok"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
	assert.Contains(t, err.Error(), `"orders:"`)
	assert.Contains(t, err.Error(), `":x"`)

	_, err = DefaultParser().ParseAll(nil)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestDestinations(t *testing.T) {
	specs := []Spec{
		{Destination: "orders", Patterns: []string{"a"}},
		{Destination: "billing", Patterns: []string{"b"}},
		{Destination: "orders", Patterns: []string{"c"}},
	}
	assert.Equal(t, []string{"orders", "billing"}, Destinations(specs))
}

func TestFromLegacy(t *testing.T) {
	assert.Equal(t, "orders:a,b", FromLegacy("orders", "a,b", ""))
	assert.Equal(t, "orders#a,b", FromLegacy("orders", "a,b", "#"))
	assert.Equal(t, "orders", FromLegacy("orders", "", ":"))
}
