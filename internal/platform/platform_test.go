package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		ids      []string
		vendors  []string
		capMin   int
		explicit bool
		want     time.Duration
	}{
		{"no vendor list", []string{"ubuntu"}, nil, 270, false, 0},
		{"explicit cap for all", []string{"ubuntu"}, nil, 120, true, 120 * time.Minute},
		{"listed vendor", []string{"Ubuntu", "debian"}, []string{"DEBIAN"}, 270, false, 270 * time.Minute},
		{"unlisted vendor", []string{"arch"}, []string{"debian"}, 270, false, 0},
		{"zero disables", []string{"debian"}, []string{"debian"}, 0, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := match("v", tt.ids, tt.vendors, tt.capMin, tt.explicit)
			assert.Equal(t, tt.want, c.MaxLookahead)
			assert.Equal(t, tt.want > 0, c.Capped())
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Nil(t, splitList(""))
}
