// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package oscsource

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// Runner owns at most one serving Source and replaces it when the listen
// address or scale changes. Safe for concurrent use.
type Runner struct {
	ctx    context.Context
	out    Sink
	logger zerolog.Logger

	mu      sync.Mutex
	cur     *Source
	cfg     Config
	done    chan struct{}
	stopped bool
}

// NewRunner creates a runner whose sources stop when ctx is done
func NewRunner(ctx context.Context, out Sink, logger zerolog.Logger) *Runner {
	return &Runner{ctx: ctx, out: out, logger: logger}
}

// Apply starts, restarts or stops the source to match cfg. An empty
// cfg.Listen stops it. When only the address changes the new socket is
// bound before the old one is released, so a failed bind leaves the old
// source serving.
func (r *Runner) Apply(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil
	}
	if r.cur != nil && cfg.Listen == r.cfg.Listen && cfg.Scale == r.cfg.Scale {
		return nil
	}
	if cfg.Listen == "" {
		r.stopLocked()
		return nil
	}

	sameAddr := r.cur != nil && cfg.Listen == r.cfg.Listen
	if sameAddr {
		r.stopLocked()
	}

	cfg.Logger = r.logger
	src := New(cfg, r.out)
	if err := src.Listen(); err != nil {
		return err
	}

	r.stopLocked()
	r.start(src, cfg)
	return nil
}

func (r *Runner) start(src *Source, cfg Config) {
	done := make(chan struct{})
	r.cur, r.cfg, r.done = src, cfg, done

	go func() {
		defer close(done)
		if err := src.Serve(r.ctx); err != nil {
			r.logger.Error().Err(err).Msg("OSC listener stopped")
		}
	}()
}

func (r *Runner) stopLocked() {
	if r.cur == nil {
		return
	}
	r.cur.Close()
	<-r.done
	r.cur, r.done = nil, nil
}

// Addr returns the current bound address, or nil when not serving
func (r *Runner) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return nil
	}
	return r.cur.Addr()
}

// Stop closes the current source and waits for it. Later Apply calls are
// ignored.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.stopped = true
}
