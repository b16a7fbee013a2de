package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPage_Offset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		page       Page
		maxLimit   int
		wantOffset int
		wantLimit  int
		wantErr    bool
	}{
		{name: "first page", page: Page{Page: 1, Limit: 10}, maxLimit: 100, wantOffset: 0, wantLimit: 10},
		{name: "third page", page: Page{Page: 3, Limit: 20}, maxLimit: 100, wantOffset: 40, wantLimit: 20},
		{name: "limit clamped", page: Page{Page: 2, Limit: 500}, maxLimit: 50, wantOffset: 50, wantLimit: 50},
		{name: "default max limit", page: Page{Page: 1, Limit: 500}, maxLimit: 0, wantOffset: 0, wantLimit: DefaultMaxPageLimit},
		{name: "zero page", page: Page{Page: 0, Limit: 10}, maxLimit: 100, wantErr: true},
		{name: "zero limit", page: Page{Page: 1, Limit: 0}, maxLimit: 100, wantErr: true},
		{name: "offset would overflow", page: Page{Page: math.MaxInt, Limit: 10}, maxLimit: 100, wantErr: true},
		{name: "overflow after clamping", page: Page{Page: math.MaxInt/100 + 2, Limit: 1000}, maxLimit: 100, wantErr: true},
		{name: "largest page that fits", page: Page{Page: math.MaxInt/10 + 1, Limit: 10}, maxLimit: 100, wantOffset: (math.MaxInt / 10) * 10, wantLimit: 10},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			offset, limit, err := tt.page.offset(tt.maxLimit)
			if tt.wantErr {
				assertValidationError(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantLimit, limit)
			assert.GreaterOrEqual(t, offset, 0)
		})
	}
}
