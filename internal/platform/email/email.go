// Package email sends plain-text email through a registry of providers with
// primary/fallback selection.
package email

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

var ErrNoProvider = errors.New("email: no configured provider available")

type Request struct {
	From    string
	To      []string
	Subject string
	Body    string
	HTML    string
}

// Provider is one email backend.
type Provider interface {
	Name() string
	// Send returns the provider's message id.
	Send(ctx context.Context, req *Request) (string, error)
	IsConfigured() bool
}

type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	primary   string
	fallback  []string
	logger    zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		logger:    logger.With().Str("component", "email").Logger(),
	}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	r.logger.Info().Str("provider", p.Name()).Bool("configured", p.IsConfigured()).Msg("registered email provider")
}

func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.primary = name
	return nil
}

func (r *Registry) SetFallback(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.providers[name]; !ok {
			return fmt.Errorf("provider %q not registered", name)
		}
	}
	r.fallback = names
	return nil
}

// order returns configured providers: primary first, then fallbacks, then
// anything else registered, sorted by name.
func (r *Registry) order() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Provider
	add := func(name string) {
		if p, ok := r.providers[name]; ok && !seen[name] && p.IsConfigured() {
			seen[name] = true
			out = append(out, p)
		}
	}
	add(r.primary)
	for _, name := range r.fallback {
		add(name)
	}
	rest := make([]string, 0, len(r.providers))
	for name := range r.providers {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		add(name)
	}
	return out
}

// Send tries each configured provider in order and returns the first
// success. On total failure the primary's error is returned.
func (r *Registry) Send(ctx context.Context, req *Request) (provider, id string, err error) {
	candidates := r.order()
	if len(candidates) == 0 {
		return "", "", ErrNoProvider
	}

	var firstErr error
	for i, p := range candidates {
		id, err := p.Send(ctx, req)
		if err == nil {
			if i > 0 {
				r.logger.Warn().Str("provider", p.Name()).Msg("email delivered by fallback provider")
			}
			return p.Name(), id, nil
		}
		r.logger.Warn().Err(err).Str("provider", p.Name()).Msg("email provider failed")
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return "", "", firstErr
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
