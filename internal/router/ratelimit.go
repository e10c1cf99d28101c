package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidRate = errors.New("invalid rate limit")

// ParseRate reads limits written as "<count>/<unit>" with unit s, m or h.
func ParseRate(s string) (int, time.Duration, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: format %q", ErrInvalidRate, s)
	}

	limit, err := strconv.Atoi(parts[0])
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("%w: count %q", ErrInvalidRate, parts[0])
	}

	var window time.Duration
	switch strings.ToLower(parts[1]) {
	case "s":
		window = time.Second
	case "m":
		window = time.Minute
	case "h":
		window = time.Hour
	default:
		return 0, 0, fmt.Errorf("%w: duration unit %q", ErrInvalidRate, parts[1])
	}
	return limit, window, nil
}

type rateWindow struct {
	start    time.Time
	requests int
}

// RateLimiter is a fixed-window frame limiter keyed by connection.
// A nil *RateLimiter allows everything.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[uuid.UUID]*rateWindow
	now     func() time.Time
}

// NewRateLimiter returns nil for an empty rate, which disables limiting.
func NewRateLimiter(rate string) (*RateLimiter, error) {
	if rate == "" {
		return nil, nil
	}
	limit, window, err := ParseRate(rate)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[uuid.UUID]*rateWindow),
		now:     time.Now,
	}, nil
}

func (l *RateLimiter) Allow(connID uuid.UUID) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, found := l.windows[connID]
	if !found || now.Sub(w.start) >= l.window {
		// First request in the window.
		l.windows[connID] = &rateWindow{start: now, requests: 1}
		return true
	}
	if w.requests < l.limit {
		w.requests++
		return true
	}
	return false
}

func (l *RateLimiter) Forget(connID uuid.UUID) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, connID)
}
