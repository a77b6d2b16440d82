// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_surface

import (
	"context"
	"time"

	internal_chunkstore "github.com/rapidaai/capture/api/capture-api/internal/chunkstore"
	internal_type "github.com/rapidaai/capture/api/capture-api/internal/type"
	"github.com/rapidaai/capture/pkg/commons"
)

const (
	// DefaultInitialGrace is waited before the first negotiation attempt, so
	// a just-ended prior session's release can propagate through the host.
	DefaultInitialGrace = 100 * time.Millisecond
	// DefaultConflictGrace is waited before the single conflict retry. The
	// host's release signal is asynchronous and not otherwise observable;
	// this interval plus one retry caps negotiation latency at a known worst
	// case instead of looping on permanently-denied surfaces.
	DefaultConflictGrace = 500 * time.Millisecond
)

// Acquirer negotiates an exclusive capture handle with bounded retry and
// persists the granted token for the privileged follow-up step.
type Acquirer struct {
	gateway Gateway
	store   internal_chunkstore.Store
	logger  commons.Logger

	initialGrace  time.Duration
	conflictGrace time.Duration
	// sleep is injectable for tests; defaults to a context-aware wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAcquirer builds an Acquirer with the given grace intervals. Zero
// durations fall back to the defaults.
func NewAcquirer(gateway Gateway, store internal_chunkstore.Store, logger commons.Logger, initialGrace, conflictGrace time.Duration) *Acquirer {
	if initialGrace <= 0 {
		initialGrace = DefaultInitialGrace
	}
	if conflictGrace <= 0 {
		conflictGrace = DefaultConflictGrace
	}
	return &Acquirer{
		gateway:       gateway,
		store:         store,
		logger:        logger,
		initialGrace:  initialGrace,
		conflictGrace: conflictGrace,
		sleep:         contextSleep,
	}
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire negotiates a capture handle for the surface.
//
// The host requires any previous stream on the same surface to be fully
// released before granting a new one, so acquisition is never attempted
// immediately: a short grace interval precedes the first attempt, and a
// stream conflict gets one longer grace interval and exactly one retry.
// A second conflict, or any other failure, is surfaced as-is.
//
// On success the granted token and surface id are persisted so the
// privileged acquisition step, which may run in a different execution
// context, can consume them.
func (a *Acquirer) Acquire(ctx context.Context, surfaceID int) (*internal_type.CaptureHandle, error) {
	if err := a.sleep(ctx, a.initialGrace); err != nil {
		return nil, err
	}

	handle, err := a.gateway.Negotiate(ctx, surfaceID)
	if err != nil {
		if !IsStreamConflict(err) {
			return nil, err
		}
		a.logger.Warnf("surface %d reports an active stream, retrying once after %s", surfaceID, a.conflictGrace)
		if serr := a.sleep(ctx, a.conflictGrace); serr != nil {
			return nil, serr
		}
		handle, err = a.gateway.Negotiate(ctx, surfaceID)
		if err != nil {
			// Second conflict or any other failure: no further retries.
			return nil, err
		}
	}

	meta := internal_chunkstore.SessionMeta{
		StreamToken: handle.StreamToken,
		SurfaceID:   handle.SurfaceID,
	}
	// Keep the start time of a recovered-but-uncollected recording.
	if existing, gerr := a.store.GetMeta(ctx); gerr == nil && existing != nil {
		meta.StartedAt = existing.StartedAt
	}
	if perr := a.store.PutMeta(ctx, meta); perr != nil {
		a.logger.Errorf("unable to persist capture handle for surface %d: %v", surfaceID, perr)
	}

	a.logger.Infof("acquired stream %s on surface %d", handle.StreamToken, surfaceID)
	return handle, nil
}
