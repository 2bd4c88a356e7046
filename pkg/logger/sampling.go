package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SamplingConfig configures log sampling. Within each Tick the first
// Threshold records with the same level and message are kept; after that
// only Rate of them (ErrorRate for warnings and errors) get through.
type SamplingConfig struct {
	Enabled   bool
	Tick      time.Duration
	Threshold uint64
	Rate      float64
	ErrorRate float64

	// MaxKeys bounds the number of distinct messages tracked per tick.
	MaxKeys int

	// KeepPrefixes lists message prefixes that are never sampled.
	KeepPrefixes []string
}

// Sampling defaults.
const (
	DefaultSamplingTick      = time.Second
	DefaultSamplingThreshold = 100
	DefaultSamplingMaxKeys   = 10000
)

type samplingState struct {
	mu        sync.Mutex
	counts    map[string]uint64
	resetAt   time.Time
	processed atomic.Uint64
	dropped   atomic.Uint64
}

// samplingHandler wraps another handler with sampling logic. Handlers derived
// through WithAttrs and WithGroup share the counters of their parent.
type samplingHandler struct {
	handler slog.Handler
	config  SamplingConfig
	state   *samplingState
	now     func() time.Time
}

// NewSamplingHandler wraps h. It returns h unchanged when sampling is disabled.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultSamplingTick
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultSamplingThreshold
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultSamplingMaxKeys
	}
	return &samplingHandler{
		handler: h,
		config:  cfg,
		state:   &samplingState{counts: make(map[string]uint64), resetAt: time.Now()},
		now:     time.Now,
	}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.state.processed.Add(1)
	logsProcessedTotal.WithLabelValues(levelToString(r.Level)).Inc()

	if h.keep(r.Message) {
		return h.handler.Handle(ctx, r)
	}

	count, tracked := h.count(r.Level.String() + ":" + r.Message)
	if !tracked || count <= h.config.Threshold {
		return h.handler.Handle(ctx, r)
	}

	rate := h.config.Rate
	if r.Level >= slog.LevelWarn {
		rate = h.config.ErrorRate
	}
	if sampled(count, rate) {
		return h.handler.Handle(ctx, r)
	}

	h.state.dropped.Add(1)
	logsDroppedTotal.WithLabelValues(levelToString(r.Level)).Inc()
	return nil
}

func (h *samplingHandler) keep(message string) bool {
	for _, prefix := range h.config.KeepPrefixes {
		if strings.HasPrefix(message, prefix) {
			return true
		}
	}
	return false
}

// count increments the counter of key. tracked is false when the key table
// is full and the record bypasses sampling.
func (h *samplingHandler) count(key string) (uint64, bool) {
	s := h.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if now := h.now(); now.Sub(s.resetAt) >= h.config.Tick {
		clear(s.counts)
		s.resetAt = now
	}
	n, ok := s.counts[key]
	if !ok && len(s.counts) >= h.config.MaxKeys {
		return 0, false
	}
	n++
	s.counts[key] = n
	samplingKeys.Set(float64(len(s.counts)))
	return n, true
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{handler: h.handler.WithAttrs(attrs), config: h.config, state: h.state, now: h.now}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{handler: h.handler.WithGroup(name), config: h.config, state: h.state, now: h.now}
}

func sampled(count uint64, rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	interval := uint64(1.0 / rate)
	return count%interval == 0
}
