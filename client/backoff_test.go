package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesFromBase(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	assert.Equal(t, time.Second, backoffDelay(1, base, max))
	assert.Equal(t, 2*time.Second, backoffDelay(2, base, max))
	assert.Equal(t, 4*time.Second, backoffDelay(3, base, max))
	assert.Equal(t, 8*time.Second, backoffDelay(4, base, max))
}

func TestBackoffIsCapped(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	assert.Equal(t, max, backoffDelay(6, base, max))
	assert.Equal(t, max, backoffDelay(10, base, max))
	assert.Equal(t, max, backoffDelay(100, base, max))
}

func TestBackoffIsMonotone(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		delay := backoffDelay(attempt, 500*time.Millisecond, 30*time.Second)
		assert.GreaterOrEqual(t, delay, prev, "attempt %d", attempt)
		prev = delay
	}
}

func TestBackoffDefaults(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(0, 0, 0))
	assert.Equal(t, 30*time.Second, backoffDelay(50, 0, 0))
}
