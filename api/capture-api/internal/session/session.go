// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	internal_chunkstore "github.com/rapidaai/capture/api/capture-api/internal/chunkstore"
	internal_surface "github.com/rapidaai/capture/api/capture-api/internal/surface"
	internal_type "github.com/rapidaai/capture/api/capture-api/internal/type"
	internal_wav "github.com/rapidaai/capture/api/capture-api/internal/wav"
	"github.com/rapidaai/capture/pkg/commons"
)

// State is the recording session lifecycle phase.
type State string

const (
	StateIdle        State = "idle"
	StateNegotiating State = "negotiating"
	StateCapturing   State = "capturing"
	StateStopping    State = "stopping"
)

var (
	// ErrAlreadyCapturing rejects a start while a capture is live. Starts are
	// never queued behind a running session.
	ErrAlreadyCapturing = errors.New("a recording is already in progress")
	// ErrStreamRequired rejects a start-recording command without a token.
	ErrStreamRequired = errors.New("Stream ID required")
)

// StopResult is the outcome of a stop-and-collect cycle.
type StopResult struct {
	// Audio is nil when the recording produced no data.
	Audio   *internal_type.EncodedAudio
	HasData bool
}

// StateInfo is the externally visible session state.
type StateInfo struct {
	IsRecording  bool
	HasRecording bool
}

// RecorderFactory builds the chunked recorder for a freshly opened stream.
// Injectable so tests can substitute a scripted driver.
type RecorderFactory func(src internal_type.AudioSource) Recorder

// Session is the process-wide recording state machine. It exclusively owns
// the live stream handle, the chunked recorder and the chunk sequence; only
// one session may be capturing per process.
//
// Every chunk append also rewrites the full chunk snapshot in the store, so
// an abrupt process termination loses at most the interval in flight and a
// fresh Session reconstructs the identical ordered sequence on construction.
type Session struct {
	mu sync.Mutex
	// persistMu is held across append-and-write on both chunk paths so an
	// older snapshot can never land after a newer one.
	persistMu sync.Mutex

	logger   commons.Logger
	store    internal_chunkstore.Store
	gateway  internal_surface.Gateway
	acquirer *internal_surface.Acquirer

	newRecorder RecorderFactory
	clock       func() time.Time

	state     State
	handle    *internal_type.CaptureHandle
	source    internal_type.AudioSource
	recorder  Recorder
	chunks    [][]byte
	startedAt time.Time
}

// New builds the session singleton and performs restart recovery: a persisted
// chunk snapshot is reinflated into memory so the recording is collectable
// even though the process that captured it is gone.
func New(ctx context.Context, logger commons.Logger, store internal_chunkstore.Store,
	gateway internal_surface.Gateway, acquirer *internal_surface.Acquirer,
	newRecorder RecorderFactory) (*Session, error) {

	s := &Session{
		logger:      logger,
		store:       store,
		gateway:     gateway,
		acquirer:    acquirer,
		newRecorder: newRecorder,
		clock:       time.Now,
		state:       StateIdle,
	}

	chunks, err := store.GetChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovering chunk snapshot: %w", err)
	}
	if len(chunks) > 0 {
		s.chunks = chunks
		total := 0
		for _, c := range chunks {
			total += len(c)
		}
		logger.Infof("recovered %d chunks (%d bytes) from a previous session", len(chunks), total)
	}
	if meta, err := store.GetMeta(ctx); err == nil && meta != nil && meta.StartedAt > 0 {
		s.startedAt = time.UnixMilli(meta.StartedAt)
	}

	return s, nil
}

// Negotiate runs the bounded-retry acquisition for a surface and keeps the
// granted handle for the privileged start that follows. The session returns
// to Idle either way; failure leaves no state behind and is retryable.
func (s *Session) Negotiate(ctx context.Context, surfaceID int) (*internal_type.CaptureHandle, error) {
	s.mu.Lock()
	if s.state == StateCapturing || s.state == StateStopping {
		s.mu.Unlock()
		return nil, ErrAlreadyCapturing
	}
	s.state = StateNegotiating
	s.mu.Unlock()

	handle, err := s.acquirer.Acquire(ctx, surfaceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateIdle
		return nil, err
	}
	s.handle = handle
	s.state = StateIdle
	return handle, nil
}

// StartRecording opens the stream behind the token and starts the chunked
// recorder. The token normally comes from a prior Negotiate in this process,
// but after a restart it is matched against the persisted handle instead.
func (s *Session) StartRecording(ctx context.Context, streamToken string) error {
	if streamToken == "" {
		return ErrStreamRequired
	}

	s.mu.Lock()
	if s.state == StateCapturing || s.state == StateStopping {
		s.mu.Unlock()
		return ErrAlreadyCapturing
	}
	s.state = StateNegotiating
	handle := s.handle
	s.mu.Unlock()

	if handle == nil || handle.StreamToken != streamToken {
		handle = s.recoverHandle(ctx, streamToken)
	}

	source, err := s.gateway.OpenStream(ctx, handle)
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}

	recorder := s.newRecorder(source)
	if err := recorder.Start(s.onChunk); err != nil {
		source.Close()
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.handle = handle
	s.source = source
	s.recorder = recorder
	s.startedAt = s.clock()
	s.state = StateCapturing
	s.mu.Unlock()

	if err := s.store.PutMeta(ctx, internal_chunkstore.SessionMeta{
		StreamToken: handle.StreamToken,
		SurfaceID:   handle.SurfaceID,
		StartedAt:   s.startedAt.UnixMilli(),
	}); err != nil {
		s.logger.Errorf("unable to persist session meta: %v", err)
	}

	s.logger.Infof("capturing stream %s on surface %d", handle.StreamToken, handle.SurfaceID)
	return nil
}

// recoverHandle rebuilds a capture handle from the persisted meta when the
// privileged start runs in a different execution context than the
// negotiation. An unknown token still gets a bare handle; the host is the
// authority on whether it is live.
func (s *Session) recoverHandle(ctx context.Context, streamToken string) *internal_type.CaptureHandle {
	if meta, err := s.store.GetMeta(ctx); err == nil && meta != nil && meta.StreamToken == streamToken {
		return &internal_type.CaptureHandle{
			SurfaceID:   meta.SurfaceID,
			StreamToken: meta.StreamToken,
			AcquiredAt:  s.clock(),
		}
	}
	return &internal_type.CaptureHandle{StreamToken: streamToken, AcquiredAt: s.clock()}
}

// onChunk appends a recorder chunk and rewrites the snapshot. Persistence
// failures never interrupt the capture: on quota exhaustion the recording
// continues in memory and the user gets a warning instead.
func (s *Session) onChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.state != StateCapturing && s.state != StateStopping {
		s.mu.Unlock()
		return
	}
	s.chunks = append(s.chunks, chunk)
	snapshot := make([][]byte, len(s.chunks))
	copy(snapshot, s.chunks)
	s.mu.Unlock()

	if err := s.store.PutChunks(context.Background(), snapshot); err != nil {
		if errors.Is(err, internal_chunkstore.ErrQuotaExceeded) {
			s.logger.Warnf("chunk snapshot over quota, recording continues in memory only: %v", err)
			return
		}
		s.logger.Errorf("unable to persist chunk snapshot: %v", err)
	}
}

// AddChunk appends an externally recorded chunk (the add-recording-chunk
// command). Always succeeds in memory; persistence follows the same rules as
// recorder chunks.
func (s *Session) AddChunk(ctx context.Context, chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	if s.startedAt.IsZero() {
		s.startedAt = s.clock()
	}
	snapshot := make([][]byte, len(s.chunks))
	copy(snapshot, s.chunks)
	startedAt := s.startedAt
	s.mu.Unlock()

	if err := s.store.PutChunks(ctx, snapshot); err != nil {
		if errors.Is(err, internal_chunkstore.ErrQuotaExceeded) {
			s.logger.Warnf("chunk snapshot over quota, recording continues in memory only: %v", err)
		} else {
			s.logger.Errorf("unable to persist chunk snapshot: %v", err)
		}
	}

	// A capture may be live; its identity keys must survive this write.
	meta := internal_chunkstore.SessionMeta{StartedAt: startedAt.UnixMilli()}
	if existing, err := s.store.GetMeta(ctx); err == nil && existing != nil {
		meta.StreamToken = existing.StreamToken
		meta.SurfaceID = existing.SurfaceID
	}
	if err := s.store.PutMeta(ctx, meta); err != nil {
		s.logger.Errorf("unable to persist session meta: %v", err)
	}
}

// Stop ends the capture and collects the recording.
//
// The flush-before-stop hands over the last partial interval; the pre-stop
// snapshot copy guards the final read against the known race where an
// overlapping callback clears shared state before collection completes. An
// empty result after both reads resolves as "no data", not as an error, and
// release failures are logged but never abort the stop.
func (s *Session) Stop(ctx context.Context) (StopResult, error) {
	s.mu.Lock()
	if s.state == StateStopping || s.state == StateNegotiating {
		s.mu.Unlock()
		return StopResult{}, fmt.Errorf("session is %s", s.state)
	}

	// Pre-stop snapshot, taken before the recorder is signalled.
	preStop := make([][]byte, len(s.chunks))
	copy(preStop, s.chunks)

	recorder := s.recorder
	wasCapturing := s.state == StateCapturing
	s.state = StateStopping
	s.mu.Unlock()

	if wasCapturing && recorder != nil {
		recorder.Flush()
		if err := recorder.Stop(ctx); err != nil {
			s.logger.Errorf("recorder stop fault: %v", err)
		}
	}

	pref, err := s.store.GetPreferences(ctx)
	if err != nil {
		s.logger.Warnf("preference read failed, using defaults: %v", err)
	}

	s.mu.Lock()
	data := concat(s.chunks)
	if len(data) == 0 {
		// Retry once from the pre-stop copy.
		data = concat(preStop)
	}
	s.mu.Unlock()

	result := StopResult{}
	if len(data) > 0 {
		audio := s.encode(data, pref, recorder)
		result.Audio = &audio
		result.HasData = true
	} else {
		s.logger.Warn("stop produced no data")
	}

	s.release(ctx)

	if err := s.store.Delete(ctx); err != nil {
		s.logger.Errorf("unable to delete recording keys: %v", err)
	}

	s.mu.Lock()
	s.chunks = nil
	s.handle = nil
	s.startedAt = time.Time{}
	s.state = StateIdle
	s.mu.Unlock()

	return result, nil
}

// encode tags the concatenated chunks with the preferred container. A
// container the recorder cannot natively produce degrades to lossless WAV,
// observably via FallbackApplied.
func (s *Session) encode(data []byte, pref internal_type.FormatPreference, recorder Recorder) internal_type.EncodedAudio {
	container := pref.Container
	if container == "" {
		container = internal_type.ContainerWAV
	}

	supported := container == internal_type.ContainerWAV
	if recorder != nil {
		supported = recorder.Supports(container)
	}

	fallback := false
	if !supported {
		s.logger.Warnf("container %q not supported by the recorder, falling back to wav", container)
		container = internal_type.ContainerWAV
		fallback = true
	}

	if container == internal_type.ContainerWAV {
		return internal_type.EncodedAudio{
			Data:            internal_wav.WrapPCM(data, pref.SampleRate, pref.ChannelMode.Channels(), pref.BitDepth),
			MimeType:        container.MimeType(),
			FallbackApplied: fallback,
		}
	}
	// Recorder-native container: the concatenation of its chunks already is
	// the finished file.
	return internal_type.EncodedAudio{
		Data:     data,
		MimeType: container.MimeType(),
	}
}

// release tears down the live stream. Failures here are swallowed after
// logging; they must never turn a successful stop into an error.
func (s *Session) release(ctx context.Context) {
	s.mu.Lock()
	source := s.source
	handle := s.handle
	s.source = nil
	s.recorder = nil
	s.mu.Unlock()

	if source != nil {
		if err := source.Close(); err != nil {
			s.logger.Debugf("closing audio source: %v", err)
		}
	}
	if handle != nil {
		if err := s.gateway.Release(ctx, handle); err != nil {
			s.logger.Warnf("stream release failed: %v", err)
		}
	}
}

// Data collects the current recording without stopping the capture or
// clearing anything.
func (s *Session) Data(ctx context.Context) (StopResult, error) {
	pref, err := s.store.GetPreferences(ctx)
	if err != nil {
		s.logger.Warnf("preference read failed, using defaults: %v", err)
	}

	s.mu.Lock()
	data := concat(s.chunks)
	recorder := s.recorder
	s.mu.Unlock()

	if len(data) == 0 {
		return StopResult{}, nil
	}
	audio := s.encode(data, pref, recorder)
	return StopResult{Audio: &audio, HasData: true}, nil
}

// Clear discards the recording. Idempotent: clearing with nothing recorded
// still succeeds and leaves the recording keys absent. A live capture is torn
// down without collecting a result.
func (s *Session) Clear(ctx context.Context) {
	s.mu.Lock()
	recorder := s.recorder
	wasCapturing := s.state == StateCapturing
	if wasCapturing {
		s.state = StateStopping
	}
	s.mu.Unlock()

	if wasCapturing && recorder != nil {
		if err := recorder.Stop(ctx); err != nil {
			s.logger.Errorf("recorder stop fault: %v", err)
		}
	}
	s.release(ctx)

	if err := s.store.Delete(ctx); err != nil {
		s.logger.Errorf("unable to delete recording keys: %v", err)
	}

	s.mu.Lock()
	s.chunks = nil
	s.handle = nil
	s.startedAt = time.Time{}
	s.state = StateIdle
	s.mu.Unlock()
}

// Suspend is the host-teardown path: the same release sequence as stopping,
// best effort, without collecting a result. The persisted snapshot is kept so
// the next process can recover the recording.
func (s *Session) Suspend(ctx context.Context) {
	s.mu.Lock()
	recorder := s.recorder
	wasCapturing := s.state == StateCapturing
	s.mu.Unlock()

	if wasCapturing && recorder != nil {
		recorder.Flush()
		if err := recorder.Stop(ctx); err != nil {
			s.logger.Errorf("recorder stop fault: %v", err)
		}
	}
	s.release(ctx)

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// StateInfo reports whether a capture is live and whether collectable chunks
// exist (including chunks recovered from a previous process).
func (s *Session) StateInfo() StateInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateInfo{
		IsRecording:  s.state == StateCapturing,
		HasRecording: len(s.chunks) > 0,
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func concat(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return nil
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
