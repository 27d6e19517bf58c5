package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name string
		cwd  []string
		arg  string
		want []string
	}{
		{"relative from root", nil, "docs", []string{"docs"}},
		{"relative from cwd", []string{"a"}, "b/c", []string{"a", "b", "c"}},
		{"absolute resets cwd", []string{"a", "b"}, "/x", []string{"x"}},
		{"dotdot pops", []string{"a", "b"}, "../c", []string{"a", "c"}},
		{"dotdot past root clamps", nil, "../../x", []string{"x"}},
		{"dot is a noop", []string{"a"}, "./b", []string{"a", "b"}},
		{"trailing slash ignored", nil, "docs/", []string{"docs"}},
		{"bare slash is root", []string{"a"}, "/", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitPath(tt.cwd, tt.arg))
		})
	}
}
