package query

import (
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeepEqual(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"nils", nil, nil, true},
		{"nil vs value", nil, 1, false},
		{"equal strings", "a", "a", true},
		{"different strings", "a", "b", false},
		{"bool", true, true, true},
		{"int vs float same value", 1, 1.0, true},
		{"int64 vs int", int64(7), 7, true},
		{"nan equals nan", math.NaN(), math.NaN(), true},
		{"nan vs number", math.NaN(), 1.0, false},
		{"dates by instant", now, now.Add(0), true},
		{"dates differ", now, now.Add(time.Millisecond), false},
		{"regex by source", regexp.MustCompile(`a+`), regexp.MustCompile(`a+`), true},
		{"regex differ", regexp.MustCompile(`a+`), regexp.MustCompile(`b+`), false},
		{"arrays element-wise", []any{1, "x"}, []any{1, "x"}, true},
		{"arrays length", []any{1}, []any{1, 2}, false},
		{"nested arrays", []any{[]any{math.NaN()}}, []any{[]any{math.NaN()}}, true},
		{"maps by key set", map[string]any{"a": 1}, map[string]any{"a": 1}, true},
		{"maps extra key", map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}, false},
		{"maps nested", map[string]any{"a": []any{1}}, map[string]any{"a": []any{1}}, true},
		{"foreign type never equal", struct{ X int }{1}, struct{ X int }{1}, false},
		{"string vs number", "1", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeepEqual(tt.a, tt.b))
		})
	}
}
