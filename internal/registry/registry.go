// ABOUTME: Process-wide table of live user and operator channels
// ABOUTME: Latest connection wins; failed writes evict the channel instead of surfacing errors

package registry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/2389/handoff-gateway/internal/metrics"
	"github.com/2389/handoff-gateway/internal/protocol"
)

// Kind distinguishes end-user channels from operator channels.
type Kind string

const (
	KindUser  Kind = "user"
	KindAgent Kind = "agent"
)

// Channel is a duplex connection the registry can write frames to.
// Implementations must be comparable (pointer types) and safe for
// concurrent Send calls.
type Channel interface {
	Send(ctx context.Context, frame protocol.Frame) error
	Close(reason string) error
}

// SendResult is the outcome of a best-effort send.
type SendResult int

const (
	Delivered SendResult = iota
	NotConnected
	WriteFailed
)

func (r SendResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case NotConnected:
		return "not_connected"
	case WriteFailed:
		return "write_failed"
	default:
		return "unknown(" + strconv.Itoa(int(r)) + ")"
	}
}

type key struct {
	kind Kind
	id   int64
}

// Registry maps (kind, id) to at most one live channel.
type Registry struct {
	mu       sync.RWMutex
	channels map[key]Channel
	keys     map[Channel]key
	logger   *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make(map[key]Channel),
		keys:     make(map[Channel]key),
		logger:   logger.With("component", "registry"),
	}
}

// Register installs ch for (kind, id). Any channel already registered under
// that key is removed at once and closed in the background, so an
// unresponsive old peer never delays the new channel.
func (r *Registry) Register(kind Kind, id int64, ch Channel) {
	k := key{kind, id}

	r.mu.Lock()
	prior, replaced := r.channels[k]
	if replaced {
		delete(r.keys, prior)
	}
	r.channels[k] = ch
	r.keys[ch] = k
	total := r.countLocked(kind)
	r.mu.Unlock()

	metrics.ConnectedChannels.WithLabelValues(string(kind)).Set(float64(total))

	if replaced && prior != ch {
		go func() {
			if err := prior.Close("superseded by a newer connection"); err != nil {
				r.logger.Debug("closing superseded channel", "kind", kind, "id", id, "error", err)
			}
		}()
	}

	r.logger.Info("=== CHANNEL CONNECTED ===",
		"kind", kind,
		"id", id,
		"replaced", replaced,
		"total", total,
	)
}

// Unregister removes ch if it is still the registered channel for its key.
// It reports whether anything was removed. Safe to call repeatedly.
func (r *Registry) Unregister(ch Channel) bool {
	r.mu.Lock()
	k, ok := r.keys[ch]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.keys, ch)
	delete(r.channels, k)
	total := r.countLocked(k.kind)
	r.mu.Unlock()

	metrics.ConnectedChannels.WithLabelValues(string(k.kind)).Set(float64(total))

	r.logger.Info("=== CHANNEL DISCONNECTED ===",
		"kind", k.kind,
		"id", k.id,
		"total", total,
	)
	return true
}

// SendTo writes frame to the channel registered for (kind, id). A write
// failure evicts and closes that channel.
func (r *Registry) SendTo(ctx context.Context, kind Kind, id int64, frame protocol.Frame) SendResult {
	r.mu.RLock()
	ch, ok := r.channels[key{kind, id}]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("recipient not connected", "kind", kind, "id", id, "frame", frame.Type())
		metrics.FramesSent.WithLabelValues(string(kind), NotConnected.String()).Inc()
		return NotConnected
	}

	result := r.send(ctx, kind, id, ch, frame)
	metrics.FramesSent.WithLabelValues(string(kind), result.String()).Inc()
	return result
}

// BroadcastToAgents writes frame to every operator channel and returns how
// many writes succeeded. Failed channels are evicted individually.
func (r *Registry) BroadcastToAgents(ctx context.Context, frame protocol.Frame) int {
	type target struct {
		id int64
		ch Channel
	}

	r.mu.RLock()
	targets := make([]target, 0, len(r.channels))
	for k, ch := range r.channels {
		if k.kind == KindAgent {
			targets = append(targets, target{k.id, ch})
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, t := range targets {
		result := r.send(ctx, KindAgent, t.id, t.ch, frame)
		metrics.FramesSent.WithLabelValues(string(KindAgent), result.String()).Inc()
		if result == Delivered {
			delivered++
		}
	}

	r.logger.Debug("broadcast to agents",
		"frame", frame.Type(),
		"targets", len(targets),
		"delivered", delivered,
	)
	return delivered
}

// IsOnline reports whether a channel is registered for (kind, id).
func (r *Registry) IsOnline(kind Kind, id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[key{kind, id}]
	return ok
}

// Count returns the number of registered channels of the given kind.
func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked(kind)
}

// CloseAll closes and removes every registered channel, waiting for all the
// closes to finish. Used on shutdown, since hijacked connections outlive
// http.Server.Shutdown.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	all := make([]Channel, 0, len(r.keys))
	for ch := range r.keys {
		all = append(all, ch)
	}
	clear(r.channels)
	clear(r.keys)
	r.mu.Unlock()

	metrics.ConnectedChannels.WithLabelValues(string(KindUser)).Set(0)
	metrics.ConnectedChannels.WithLabelValues(string(KindAgent)).Set(0)

	var wg sync.WaitGroup
	for _, ch := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ch.Close(reason)
		}()
	}
	wg.Wait()
	return len(all)
}

func (r *Registry) send(ctx context.Context, kind Kind, id int64, ch Channel, frame protocol.Frame) SendResult {
	if err := ch.Send(ctx, frame); err != nil {
		r.logger.Warn("write failed, evicting channel",
			"kind", kind,
			"id", id,
			"frame", frame.Type(),
			"error", err,
		)
		r.Unregister(ch)
		_ = ch.Close("write failed")
		return WriteFailed
	}
	return Delivered
}

func (r *Registry) countLocked(kind Kind) int {
	n := 0
	for k := range r.channels {
		if k.kind == kind {
			n++
		}
	}
	return n
}
