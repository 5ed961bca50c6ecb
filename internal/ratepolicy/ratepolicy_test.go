package ratepolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObserveBelowThreshold(t *testing.T) {
	fw := New(time.Second, 5)
	now := time.Now()

	for i := 0; i < 5; i++ {
		assert.False(t, fw.Observe("sender", now.Add(time.Duration(i)*time.Millisecond)))
	}
}

func TestObserveFlagsAboveThreshold(t *testing.T) {
	fw := New(time.Second, 5)
	now := time.Now()

	for i := 0; i < 5; i++ {
		fw.Observe("sender", now)
	}
	assert.True(t, fw.Observe("sender", now))
	assert.True(t, fw.HighFrequency("sender", now))
}

func TestObserveWindowSlides(t *testing.T) {
	fw := New(time.Second, 3)
	now := time.Now()

	for i := 0; i < 4; i++ {
		fw.Observe("sender", now)
	}
	assert.True(t, fw.HighFrequency("sender", now))

	// Old samples age out of the window
	later := now.Add(2 * time.Second)
	assert.False(t, fw.Observe("sender", later))
}

func TestSendersAreIndependent(t *testing.T) {
	fw := New(time.Second, 2)
	now := time.Now()

	for i := 0; i < 3; i++ {
		fw.Observe("loud", now)
	}
	assert.True(t, fw.HighFrequency("loud", now))
	assert.False(t, fw.HighFrequency("quiet", now))
}

func TestForget(t *testing.T) {
	fw := New(time.Second, 1)
	now := time.Now()

	fw.Observe("sender", now)
	fw.Observe("sender", now)
	assert.True(t, fw.HighFrequency("sender", now))

	fw.Forget("sender")
	assert.False(t, fw.HighFrequency("sender", now))
}
