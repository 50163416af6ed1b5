package learner

import (
	"sync"
	"time"
)

const (
	DefaultMaxPoints     = 10000
	DefaultCacheInterval = 60 * time.Second
)

type cachedStats struct {
	stats      Statistics
	computedAt time.Time
}

// Buffer holds the most recent samples of a single parameter in a fixed-size
// ring and caches their statistics for a short interval.
type Buffer struct {
	mu        sync.RWMutex
	parameter string
	data      []Point
	size      int
	pos       int
	full      bool

	cacheInterval time.Duration
	cache         *cachedStats
	now           func() time.Time
}

// NewBuffer returns an empty buffer. Non-positive maxPoints or cacheInterval
// fall back to the defaults.
func NewBuffer(parameter string, maxPoints int, cacheInterval time.Duration) *Buffer {
	return newBuffer(parameter, maxPoints, cacheInterval, time.Now)
}

func newBuffer(parameter string, maxPoints int, cacheInterval time.Duration, now func() time.Time) *Buffer {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	if cacheInterval <= 0 {
		cacheInterval = DefaultCacheInterval
	}
	return &Buffer{
		parameter:     parameter,
		data:          make([]Point, maxPoints),
		size:          maxPoints,
		cacheInterval: cacheInterval,
		now:           now,
	}
}

func (b *Buffer) Parameter() string { return b.parameter }
func (b *Buffer) Capacity() int     { return b.size }

// Add appends a point, evicting the oldest one when the ring is full. A zero
// ts is replaced by the current time.
func (b *Buffer) Add(value float64, ts time.Time, labels map[string]string) error {
	if !finite(value) {
		return ErrNonFinite
	}
	if ts.IsZero() {
		ts = b.now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[b.pos] = Point{Timestamp: ts, Value: value, Labels: copyLabels(labels)}
	b.pos = (b.pos + 1) % b.size
	if b.pos == 0 {
		b.full = true
	}
	return nil
}

// AddPoints adds samples in order and returns how many were accepted.
func (b *Buffer) AddPoints(samples []Sample) (int, error) {
	n := 0
	var firstErr error
	for _, s := range samples {
		if err := b.Add(s.Value, s.Timestamp, nil); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lenLocked()
}

func (b *Buffer) lenLocked() int {
	if b.full {
		return b.size
	}
	return b.pos
}

// each visits retained points oldest first until fn returns false.
func (b *Buffer) each(fn func(Point) bool) {
	n := b.lenLocked()
	start := 0
	if b.full {
		start = b.pos
	}
	for i := 0; i < n; i++ {
		if !fn(b.data[(start+i)%b.size]) {
			return
		}
	}
}

// Points returns a copy of every retained point in insertion order.
func (b *Buffer) Points() []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Point, 0, b.lenLocked())
	b.each(func(p Point) bool { out = append(out, p); return true })
	return out
}

// Recent returns the points with a timestamp no older than window, oldest
// first.
func (b *Buffer) Recent(window time.Duration) []Point {
	cut := b.now().Add(-window)
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Point
	b.each(func(p Point) bool {
		if !p.Timestamp.Before(cut) {
			out = append(out, p)
		}
		return true
	})
	return out
}

// Statistics returns the cached statistics while they are younger than the
// cache interval, unless forceRecalc is set. Empty buffers yield zeroed
// statistics that are never cached.
func (b *Buffer) Statistics(forceRecalc bool) Statistics {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !forceRecalc && b.cache != nil && now.Sub(b.cache.computedAt) < b.cacheInterval {
		return b.cache.stats
	}
	n := b.lenLocked()
	if n == 0 {
		return Statistics{}
	}
	values := make([]float64, 0, n)
	b.each(func(p Point) bool { values = append(values, p.Value); return true })
	st := describe(values, now)
	b.cache = &cachedStats{stats: st, computedAt: now}
	return st
}

// Trend classifies the points inside window. ok is false with fewer than
// three points.
func (b *Buffer) Trend(window time.Duration) (trend Trend, ok bool) {
	pts := b.Recent(window)
	values := make([]float64, len(pts))
	for i, p := range pts {
		values[i] = p.Value
	}
	return classify(values)
}
