// Package ratepolicy implements the frequent-operation classification used
// on both sides of the collaboration protocol: the hub tags high-frequency
// senders for logging and metrics, and the client reconciler uses the same
// policy to decide when transient updates may be shed.
package ratepolicy

import (
	"sync"
	"time"
)

// FrequencyWindow counts observations per key inside a sliding window.
// A key whose count inside the window exceeds Threshold is classified as
// high-frequency until its observations age out.
type FrequencyWindow struct {
	window    time.Duration
	threshold int

	mu      sync.Mutex
	samples map[string][]time.Time
}

// New creates a FrequencyWindow with the given window and threshold.
func New(window time.Duration, threshold int) *FrequencyWindow {
	if window <= 0 {
		window = 10 * time.Second
	}
	if threshold <= 0 {
		threshold = 40
	}
	return &FrequencyWindow{
		window:    window,
		threshold: threshold,
		samples:   make(map[string][]time.Time),
	}
}

// Window returns the configured sliding window.
func (f *FrequencyWindow) Window() time.Duration { return f.window }

// Threshold returns the configured per-window threshold.
func (f *FrequencyWindow) Threshold() int { return f.threshold }

// Observe records one event for key at the given time and reports whether
// the key is now classified as high-frequency.
func (f *FrequencyWindow) Observe(key string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.prune(f.samples[key], now)
	kept = append(kept, now)
	f.samples[key] = kept
	return len(kept) > f.threshold
}

// HighFrequency reports the current classification of key without recording
// an event.
func (f *FrequencyWindow) HighFrequency(key string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.prune(f.samples[key], now)
	if len(kept) == 0 {
		delete(f.samples, key)
	} else {
		f.samples[key] = kept
	}
	return len(kept) > f.threshold
}

// Forget drops all state for key.
func (f *FrequencyWindow) Forget(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.samples, key)
}

func (f *FrequencyWindow) prune(samples []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-f.window)
	i := 0
	for ; i < len(samples); i++ {
		if samples[i].After(cutoff) {
			break
		}
	}
	return samples[i:]
}
