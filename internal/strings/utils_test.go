package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello..."},
		{"tiny limit clamped", "hello", 2, "h..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.n))
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", TruncateRunes("héllo", 5))
	assert.Equal(t, "hé...", TruncateRunes("héllo wörld", 5))
}

func TestTruncateMap(t *testing.T) {
	assert.Equal(t, "", TruncateMap(nil, 20))
	assert.Equal(t, "cmd=ls, dir=/tmp", TruncateMap(map[string]any{"dir": "/tmp", "cmd": "ls"}, 40))

	long := TruncateMap(map[string]any{"command": "a very long shell command indeed"}, 20)
	assert.Len(t, long, 20)
	assert.Contains(t, long, "...")
}
