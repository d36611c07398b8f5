package queryir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	row := map[string]any{"id": int64(1), "tag": "x", "note": nil, "blob": []byte("ab")}

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"nil predicate", nil, true},
		{"equals", Equals{Column: "tag", Value: "x"}, true},
		{"equals mismatch", Equals{Column: "tag", Value: "y"}, false},
		{"equals null never matches", Equals{Column: "note", Value: "x"}, false},
		{"in", In{Column: "tag", Values: []any{"y", "x"}}, true},
		{"in mismatch", In{Column: "tag", Values: []any{"y"}}, false},
		{"empty in", In{Column: "tag", Values: []any{}}, false},
		{"is null", IsNull{Column: "note"}, true},
		{"is null on value", IsNull{Column: "tag"}, false},
		{"bytes", Equals{Column: "blob", Value: []byte("ab")}, true},
		{"and", And{Predicates: []Predicate{Equals{Column: "id", Value: int64(1)}, Equals{Column: "tag", Value: "x"}}}, true},
		{"and short circuit", And{Predicates: []Predicate{Equals{Column: "id", Value: int64(2)}, Equals{Column: "tag", Value: "x"}}}, false},
		{"empty and", And{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pred, row))
		})
	}
}

func TestEqual(t *testing.T) {
	now := time.Now()
	assert.True(t, Equal(now, now.UTC()))
	assert.False(t, Equal(int64(1), "1"))
	assert.False(t, Equal([]byte("a"), "a"))
	assert.False(t, Equal("a", []byte("a")))
	assert.False(t, Equal(nil, nil))
}
