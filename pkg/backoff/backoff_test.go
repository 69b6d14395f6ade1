package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{31, 60 * time.Second},
		{1000, 60 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Default(tt.retry), "retry %d", tt.retry)
	}
}

func TestCalculate_CustomBounds(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, Calculate(0, 10*time.Millisecond, 50*time.Millisecond))
	assert.Equal(t, 40*time.Millisecond, Calculate(2, 10*time.Millisecond, 50*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, Calculate(3, 10*time.Millisecond, 50*time.Millisecond))
}

func TestCalculate_NoOverflow(t *testing.T) {
	assert.Equal(t, time.Hour, Calculate(30, time.Hour, time.Hour))
}
