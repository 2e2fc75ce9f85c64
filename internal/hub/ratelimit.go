package hub

import (
	"sync"
	"time"

	"yankcord/internal/constants"
)

// category identifies one of the five rate-limited frame classes (spec
// §4.9).
type category string

const (
	categoryAuth          category = "auth"
	categoryChatSend      category = "chat_send"
	categoryTyping        category = "typing"
	categoryMediaSignal   category = "media_signal"
	categoryVoiceActivity category = "voice_activity"
)

var bucketConfigs = map[category]constants.BucketConfig{
	categoryAuth:          constants.BucketAuth,
	categoryChatSend:      constants.BucketChatSend,
	categoryTyping:        constants.BucketTyping,
	categoryMediaSignal:   constants.BucketMediaSignal,
	categoryVoiceActivity: constants.BucketVoiceActivity,
}

// slidingWindow is a slice-based token bucket: timestamps of allowed
// events are kept and pruned against the category's window on every call.
// Grounded on the teacher's Client.allowCommandRateLimit (ws/client.go):
// prune-then-append-then-check against capacity, rather than a ticking
// refill goroutine.
type slidingWindow struct {
	mu         sync.Mutex
	events     []time.Time
	violations int
}

// rateGuard bundles one slidingWindow per category for a single
// connection (C9). violations past constants.RateCloseMultiplier× a
// category's capacity within its window signal the caller to close the
// connection with code 4004.
type rateGuard struct {
	windows map[category]*slidingWindow
}

func newRateGuard() *rateGuard {
	g := &rateGuard{windows: make(map[category]*slidingWindow, len(bucketConfigs))}
	for cat := range bucketConfigs {
		g.windows[cat] = &slidingWindow{}
	}
	return g
}

// allow reports whether the event is within bucket capacity, and whether
// the connection has now crossed the abuse threshold that should trigger
// a close (spec §4.9: "repeated violations at ≥ R_close=3× capacity
// within window trigger close").
func (g *rateGuard) allow(cat category) (ok bool, shouldClose bool) {
	cfg := bucketConfigs[cat]
	w := g.windows[cat]
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-cfg.Window)
	pruned := w.events[:0]
	for _, t := range w.events {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	w.events = pruned

	if len(w.events) >= cfg.Capacity {
		w.violations++
		shouldClose = w.violations >= constants.RateCloseMultiplier*cfg.Capacity
		return false, shouldClose
	}
	w.events = append(w.events, now)
	w.violations = 0
	return true, false
}
