package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"#", "anything.at.all", true},
		{"#", "", true},
		{"order.created", "order.created", true},
		{"order.created", "order.updated", false},
		{"order.*", "order.created", true},
		{"order.*", "order.created.eu", false},
		{"order.*", "order", false},
		{"order.#", "order", true},
		{"order.#", "order.created.eu", true},
		{"*.created", "invoice.created", true},
		{"#.created", "a.b.c.created", true},
		{"#.created", "created", true},
		{"a.#.z", "a.z", true},
		{"a.#.z", "a.b.c.z", true},
		{"a.#.z", "a.b.c.y", false},
		{"*", "", true},
		{"*.*", "one", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.pattern, tt.key))
		})
	}
}
