// Package delivery sends rendered outreach messages through pluggable
// channels. A failed Send never has side effects the caller must undo; the
// processor simply retries the step on its next run.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/investor-outreach/internal/domain"
)

var (
	// ErrNoChannel is returned when no channel is registered for a step type.
	ErrNoChannel = errors.New("no delivery channel for step type")
	// ErrRateLimited is returned when a provider rate limit denies the send.
	// It is transient: the step is retried on the next run.
	ErrRateLimited = errors.New("delivery rate limited")
	// ErrInvalidMessage is returned when a message lacks a field the channel
	// needs, e.g. an email step for an investor without an address.
	ErrInvalidMessage = errors.New("invalid message")
)

// Gateway delivers one message and reports provider acceptance.
type Gateway interface {
	Send(ctx context.Context, msg *domain.Message) (*domain.SendResult, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, msg *domain.Message) (*domain.SendResult, error)

// Send calls f.
func (f GatewayFunc) Send(ctx context.Context, msg *domain.Message) (*domain.SendResult, error) {
	return f(ctx, msg)
}

// Router dispatches messages to the channel registered for their step type.
type Router struct {
	mu       sync.RWMutex
	channels map[domain.StepType]Gateway
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{channels: make(map[domain.StepType]Gateway)}
}

// Register binds a channel to a step type, replacing any previous binding.
func (r *Router) Register(typ domain.StepType, g Gateway) {
	r.mu.Lock()
	r.channels[typ] = g
	r.mu.Unlock()
}

// Channels lists the step types that have a channel.
func (r *Router) Channels() []domain.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.StepType, 0, len(r.channels))
	for t := range r.channels {
		out = append(out, t)
	}
	return out
}

// Send routes msg by its Channel.
func (r *Router) Send(ctx context.Context, msg *domain.Message) (*domain.SendResult, error) {
	r.mu.RLock()
	g, ok := r.channels[msg.Channel]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoChannel, msg.Channel)
	}
	return g.Send(ctx, msg)
}

// WithTimeout wraps g so each Send runs under its own deadline.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	return GatewayFunc(func(ctx context.Context, msg *domain.Message) (*domain.SendResult, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return g.Send(ctx, msg)
	})
}
