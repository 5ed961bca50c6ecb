package client

import (
	"sync"
	"time"
)

// pendingResult is delivered to a waiting sendRequest call.
type pendingResult struct {
	frame []byte
	err   error
}

// pendingRequests correlates request ids with their waiting continuations.
// A pending entry is resolved by a matching reply, failed by teardown, or
// timed out by its deadline; whichever happens first wins.
type pendingRequests struct {
	mu sync.Mutex
	m  map[string]chan pendingResult
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{m: make(map[string]chan pendingResult)}
}

// add registers a continuation for requestID and returns its result channel.
func (p *pendingRequests) add(requestID string) chan pendingResult {
	ch := make(chan pendingResult, 1)
	p.mu.Lock()
	p.m[requestID] = ch
	p.mu.Unlock()
	return ch
}

// resolve delivers a reply frame to the matching continuation, if any.
// It reports whether a continuation was waiting.
func (p *pendingRequests) resolve(requestID string, frame []byte) bool {
	p.mu.Lock()
	ch, ok := p.m[requestID]
	if ok {
		delete(p.m, requestID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- pendingResult{frame: frame}
	return true
}

// fail rejects one continuation with err.
func (p *pendingRequests) fail(requestID string, err error) {
	p.mu.Lock()
	ch, ok := p.m[requestID]
	if ok {
		delete(p.m, requestID)
	}
	p.mu.Unlock()
	if ok {
		ch <- pendingResult{err: err}
	}
}

// failAll rejects every outstanding continuation, used on teardown.
func (p *pendingRequests) failAll(err error) {
	p.mu.Lock()
	channels := make([]chan pendingResult, 0, len(p.m))
	for id, ch := range p.m {
		channels = append(channels, ch)
		delete(p.m, id)
	}
	p.mu.Unlock()
	for _, ch := range channels {
		ch <- pendingResult{err: err}
	}
}

// await blocks until the continuation resolves or the deadline elapses.
func (p *pendingRequests) await(requestID string, ch chan pendingResult, timeout time.Duration) pendingResult {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res
	case <-timer.C:
		// Remove the entry so a late reply is discarded
		p.mu.Lock()
		delete(p.m, requestID)
		p.mu.Unlock()
		return pendingResult{err: ErrRequestTimeout}
	}
}
