package credits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPricing_Calculate(t *testing.T) {
	p := NewPricing(10 * 1024 * 1024)

	tests := []struct {
		name string
		size int64
		want int64
	}{
		{
			name: "zero size",
			size: 0,
			want: 0,
		},
		{
			name: "negative size",
			size: -500,
			want: 0,
		},
		{
			name: "single byte",
			size: 1,
			want: 1,
		},
		{
			name: "just under one unit",
			size: 10*1024*1024 - 1,
			want: 1,
		},
		{
			name: "exactly one unit",
			size: 10 * 1024 * 1024,
			want: 1,
		},
		{
			name: "one byte over a unit",
			size: 10*1024*1024 + 1,
			want: 2,
		},
		{
			name: "two and a half units",
			size: 25 * 1024 * 1024,
			want: 3,
		},
		{
			name: "large file",
			size: 4 * 1024 * 1024 * 1024,
			want: 410,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Calculate(tt.size))
		})
	}
}

func TestPricing_CalculateCustomUnit(t *testing.T) {
	p := NewPricing(100)

	assert.Equal(t, int64(1), p.Calculate(1))
	assert.Equal(t, int64(1), p.Calculate(100))
	assert.Equal(t, int64(2), p.Calculate(101))
	assert.Equal(t, int64(0), p.Calculate(0))
}

func TestNewPricing_Defaults(t *testing.T) {
	assert.Equal(t, int64(DefaultBytesPerCredit), NewPricing(0).BytesPerCredit)
	assert.Equal(t, int64(DefaultBytesPerCredit), NewPricing(-5).BytesPerCredit)
	assert.Equal(t, int64(42), NewPricing(42).BytesPerCredit)
}
