package api

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// submitLimiter applies sliding-window caps on job submissions, per
// owner and globally. Zero for both disables it.
type submitLimiter struct {
	mu          sync.Mutex
	perOwnerMax int
	globalMax   int
	window      time.Duration
	owners      map[string][]int64
	global      []int64
}

func newSubmitLimiterFromEnv() *submitLimiter {
	perOwner := getenvIntRL("MEETPIPE_SUBMIT_RATE_LIMIT_PER_MIN", 60)
	global := getenvIntRL("MEETPIPE_SUBMIT_GLOBAL_RATE_LIMIT_PER_MIN", 600)
	if perOwner < 0 {
		perOwner = 0
	}
	if global < 0 {
		global = 0
	}
	return &submitLimiter{
		perOwnerMax: perOwner,
		globalMax:   global,
		window:      time.Minute,
		owners:      map[string][]int64{},
		global:      make([]int64, 0, 1024),
	}
}

func (l *submitLimiter) allow(owner string, now time.Time) bool {
	if l == nil || (l.perOwnerMax == 0 && l.globalMax == 0) {
		return true
	}
	ts := now.UTC().Unix()
	cutoff := ts - int64(l.window.Seconds())
	if owner == "" {
		owner = "default"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = trimCutoff(l.global, cutoff)
	if l.globalMax > 0 && len(l.global) >= l.globalMax {
		return false
	}

	history := trimCutoff(l.owners[owner], cutoff)
	if l.perOwnerMax > 0 && len(history) >= l.perOwnerMax {
		l.owners[owner] = history
		return false
	}

	history = append(history, ts)
	l.owners[owner] = history
	l.global = append(l.global, ts)
	return true
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	if len(in) == 0 {
		return in
	}
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}

func getenvIntRL(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
