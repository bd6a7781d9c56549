// internal/query/query_test.go
package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageNormalize(t *testing.T) {
	cases := []struct {
		name     string
		in       Page
		wantNum  int
		wantSize int
	}{
		{"defaults", Page{}, 1, 10},
		{"negative page", Page{Number: -3, Size: 5}, 1, 5},
		{"clamped size", Page{Number: 2, Size: 500}, 2, 50},
		{"zero size", Page{Number: 4, Size: 0}, 4, 10},
		{"bounds kept", Page{Number: 1, Size: 50}, 1, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.in.Normalize()
			assert.Equal(t, tc.wantNum, p.Number)
			assert.Equal(t, tc.wantSize, p.Size)
		})
	}
}

func TestPageOffset(t *testing.T) {
	assert.Equal(t, 0, Page{}.Offset())
	assert.Equal(t, 20, Page{Number: 3, Size: 10}.Offset())
	assert.Equal(t, 50, Page{Number: 2, Size: 99}.Offset())
}

func TestNewResult(t *testing.T) {
	r := NewResult[int](nil, Page{Number: 2, Size: 3}, 7)
	assert.Equal(t, []int{}, r.Items)
	assert.Equal(t, 3, r.TotalPages)
	assert.Equal(t, 2, r.Page)

	empty := NewResult([]string{}, Page{}, 0)
	assert.Equal(t, 0, empty.TotalPages)
}

func TestParseDirection(t *testing.T) {
	assert.True(t, ParseDirection("DESC"))
	assert.True(t, ParseDirection(" desc "))
	assert.False(t, ParseDirection("asc"))
	assert.False(t, ParseDirection(""))
}
