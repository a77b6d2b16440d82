// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_chunkstore

import (
	"context"
	"errors"

	internal_type "github.com/rapidaai/capture/api/capture-api/internal/type"
)

// Well-known logical keys. The recording keys (stream id, surface id, start
// time, chunks) are always deleted together; a reader seeing a start time
// without chunks must treat it as "recording just started, zero chunks yet",
// never as corruption. Preferences live outside the recording lifecycle.
const (
	KeyRecordingStreamID  = "recordingStreamId"
	KeyRecordingSurfaceID = "recordingTabId"
	KeyRecordingStartTime = "recordingStartTime"
	KeyRecordingChunks    = "recordingChunks"
	KeyPreferences        = "preferences"
)

// ErrQuotaExceeded is returned when a chunk snapshot would exceed the store's
// value-size budget. The write is rejected whole; the caller keeps recording
// in memory and warns the user.
var ErrQuotaExceeded = errors.New("chunk snapshot exceeds storage quota")

// SessionMeta mirrors the persisted recording-session identity.
type SessionMeta struct {
	StreamToken string
	SurfaceID   int
	// StartedAt is epoch milliseconds; zero means no recording was started.
	StartedAt int64
}

// Store is the restart-safe persistence area for in-flight recording state.
//
// Chunk writes use snapshot semantics: every PutChunks replaces the full chunk
// list in one write, so a reader always sees a complete self-consistent
// sequence and recovery after an abrupt restart is a plain read. Writes are
// last-write-wins with no partial visibility.
type Store interface {
	// PutChunks overwrites the chunk snapshot with the given ordered list.
	PutChunks(ctx context.Context, chunks [][]byte) error
	// GetChunks returns the persisted chunk list in append order, or nil when
	// no snapshot exists.
	GetChunks(ctx context.Context) ([][]byte, error)

	// PutMeta persists the session identity keys.
	PutMeta(ctx context.Context, meta SessionMeta) error
	// GetMeta returns the persisted session identity, or nil when absent.
	GetMeta(ctx context.Context) (*SessionMeta, error)

	// Delete removes every recording key (snapshot and identity) together.
	// Preferences survive.
	Delete(ctx context.Context) error

	// PutPreferences persists the format preference.
	PutPreferences(ctx context.Context, pref internal_type.FormatPreference) error
	// GetPreferences returns the persisted preference, or the capture
	// defaults when none was stored.
	GetPreferences(ctx context.Context) (internal_type.FormatPreference, error)
}
