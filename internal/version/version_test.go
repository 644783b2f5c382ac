package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want int
	}{
		{name: "equal", a: "8.15.3", b: "8.15.3", want: 0},
		{name: "equal with missing trailing segment", a: "8.15", b: "8.15.0", want: 0},
		{name: "equal with extra zero segments", a: "8", b: "8.0.0", want: 0},
		{name: "patch difference", a: "8.15.2", b: "8.15.3", want: -1},
		{name: "minor difference", a: "8.19.0", b: "8.2.0", want: 1},
		{name: "major difference", a: "7.17.9", b: "8.0.0", want: -1},
		{name: "shorter but larger", a: "8.16", b: "8.15.3", want: 1},
		{name: "longer but smaller", a: "8.15.1", b: "8.16", want: -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Compare(tc.a, tc.b))
			assert.Equal(t, -tc.want, Compare(tc.b, tc.a))
		})
	}
}

func TestHighest(t *testing.T) {
	got, ok := Highest([]string{"8.15.3", "8.19.7", "8.2.0"})
	assert.True(t, ok)
	assert.Equal(t, "8.19.7", got)

	got, ok = Highest([]string{"8.15.0"})
	assert.True(t, ok)
	assert.Equal(t, "8.15.0", got)

	_, ok = Highest(nil)
	assert.False(t, ok)
}
