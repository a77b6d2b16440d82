// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_controller

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_chunkstore "github.com/rapidaai/capture/api/capture-api/internal/chunkstore"
	internal_session "github.com/rapidaai/capture/api/capture-api/internal/session"
	internal_surface "github.com/rapidaai/capture/api/capture-api/internal/surface"
	internal_type "github.com/rapidaai/capture/api/capture-api/internal/type"
	internal_wav "github.com/rapidaai/capture/api/capture-api/internal/wav"
	"github.com/rapidaai/capture/pkg/commons"
)

type fakeSource struct{}

func (fakeSource) Read([]byte) (int, error) { return 0, io.EOF }
func (fakeSource) Close() error             { return nil }

type stubGateway struct{ token string }

func (g *stubGateway) Negotiate(_ context.Context, surfaceID int) (*internal_type.CaptureHandle, error) {
	return &internal_type.CaptureHandle{
		SurfaceID:   surfaceID,
		StreamToken: g.token,
		AcquiredAt:  time.Now(),
	}, nil
}

func (g *stubGateway) OpenStream(context.Context, *internal_type.CaptureHandle) (internal_type.AudioSource, error) {
	return fakeSource{}, nil
}

func (g *stubGateway) Release(context.Context, *internal_type.CaptureHandle) error { return nil }

type scriptedRecorder struct {
	onData internal_session.DataFunc
	// stopFn runs inside Stop so tests can hold the dispatch loop open.
	stopFn func()
}

func (r *scriptedRecorder) Start(onData internal_session.DataFunc) error {
	r.onData = onData
	return nil
}
func (r *scriptedRecorder) Flush() {}
func (r *scriptedRecorder) Stop(context.Context) error {
	if r.stopFn != nil {
		r.stopFn()
	}
	return nil
}
func (r *scriptedRecorder) Supports(c internal_type.Container) bool {
	return c == internal_type.ContainerWAV
}

func newTestController(t *testing.T) (*Controller, *scriptedRecorder, internal_chunkstore.Store) {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	store := internal_chunkstore.NewMemoryStore(0)
	gateway := &stubGateway{token: "abc"}
	acquirer := internal_surface.NewAcquirer(gateway, store, logger, time.Millisecond, time.Millisecond)
	recorder := &scriptedRecorder{}

	session, err := internal_session.New(context.Background(), logger, store, gateway, acquirer,
		func(internal_type.AudioSource) internal_session.Recorder { return recorder })
	require.NoError(t, err)

	controller := New(logger, session)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		controller.Shutdown(ctx)
	})
	return controller, recorder, store
}

func submit(t *testing.T, c *Controller, cmd Command) Response {
	t.Helper()
	resp, err := c.Submit(context.Background(), cmd)
	require.NoError(t, err)
	return resp
}

// Full command-level walkthrough: negotiate surface 42, start with the
// returned token, three deliveries of 1000/1000/500 bytes, then collect.
func TestCaptureCommandScenario(t *testing.T) {
	controller, recorder, store := newTestController(t)
	require.NoError(t, store.PutPreferences(context.Background(), internal_type.FormatPreference{
		Container:   internal_type.ContainerWAV,
		SampleRate:  48000,
		ChannelMode: internal_type.ChannelModeMono,
		BitDepth:    16,
	}))

	resp := submit(t, controller, StartCapture{SurfaceID: 42})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "abc", resp.StreamToken)
	assert.Equal(t, "tab", resp.Method)

	resp = submit(t, controller, StartRecordingWithStream{StreamToken: resp.StreamToken})
	require.True(t, resp.Success, resp.Error)

	resp = submit(t, controller, GetRecordingState{})
	require.True(t, resp.Success)
	assert.True(t, resp.IsRecording)

	recorder.onData(bytes.Repeat([]byte{0x01}, 1000))
	recorder.onData(bytes.Repeat([]byte{0x02}, 1000))
	recorder.onData(bytes.Repeat([]byte{0x03}, 500))

	resp = submit(t, controller, StopCapture{})
	require.True(t, resp.Success, resp.Error)
	assert.True(t, resp.HasData)
	assert.Len(t, resp.AudioBytes, internal_wav.HeaderSize+2500)
	assert.Equal(t, "audio/wav", resp.MimeType)

	resp = submit(t, controller, GetRecordingState{})
	assert.False(t, resp.IsRecording)
	assert.False(t, resp.HasRecording)
}

func TestStartRecordingWithoutStreamToken(t *testing.T) {
	controller, _, _ := newTestController(t)

	resp := submit(t, controller, StartRecordingWithStream{})
	assert.False(t, resp.Success)
	assert.Equal(t, "Stream ID required", resp.Error)
}

func TestStopWithoutRecordingResolvesNoData(t *testing.T) {
	controller, _, _ := newTestController(t)

	resp := submit(t, controller, StopCapture{})
	require.True(t, resp.Success, resp.Error)
	assert.False(t, resp.HasData)
	assert.Nil(t, resp.AudioBytes)
}

func TestClearRecordingAlwaysSucceeds(t *testing.T) {
	controller, _, store := newTestController(t)

	// Nothing recorded: still success, keys stay absent.
	resp := submit(t, controller, ClearRecording{})
	assert.True(t, resp.Success)

	chunks, err := store.GetChunks(context.Background())
	require.NoError(t, err)
	assert.Nil(t, chunks)

	submit(t, controller, AddRecordingChunk{Chunk: []byte{1, 2}})
	resp = submit(t, controller, ClearRecording{})
	assert.True(t, resp.Success)

	resp = submit(t, controller, GetRecordingState{})
	assert.False(t, resp.HasRecording)
}

func TestAddChunkAndGetData(t *testing.T) {
	controller, _, _ := newTestController(t)

	submit(t, controller, AddRecordingChunk{Chunk: []byte{0xAA}})
	submit(t, controller, AddRecordingChunk{Chunk: []byte{0xBB, 0xCC}})

	resp := submit(t, controller, GetRecordingData{})
	require.True(t, resp.Success)
	assert.True(t, resp.HasData)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, resp.AudioBytes[internal_wav.HeaderSize:])

	// get-recording-data does not consume the recording.
	resp = submit(t, controller, GetRecordingState{})
	assert.True(t, resp.HasRecording)
}

func TestGetDataEmpty(t *testing.T) {
	controller, _, _ := newTestController(t)

	resp := submit(t, controller, GetRecordingData{})
	require.True(t, resp.Success)
	assert.False(t, resp.HasData)
}

// A command still queued when the controller shuts down must resolve with
// ErrClosed instead of leaving its caller waiting for a reply that will never
// come.
func TestQueuedSubmitUnblocksOnShutdown(t *testing.T) {
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	store := internal_chunkstore.NewMemoryStore(0)
	gateway := &stubGateway{token: "abc"}
	acquirer := internal_surface.NewAcquirer(gateway, store, logger, time.Millisecond, time.Millisecond)

	entered := make(chan struct{})
	gate := make(chan struct{})
	recorder := &scriptedRecorder{stopFn: func() {
		close(entered)
		<-gate
	}}
	session, err := internal_session.New(context.Background(), logger, store, gateway, acquirer,
		func(internal_type.AudioSource) internal_session.Recorder { return recorder })
	require.NoError(t, err)
	controller := New(logger, session)

	resp, err := controller.Submit(context.Background(), StartCapture{SurfaceID: 1})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)
	resp, err = controller.Submit(context.Background(), StartRecordingWithStream{StreamToken: resp.StreamToken})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)

	// Hold the dispatch loop open inside stop-capture.
	stopErr := make(chan error, 1)
	go func() {
		_, err := controller.Submit(context.Background(), StopCapture{})
		stopErr <- err
	}()
	<-entered

	// This command queues behind the held stop and will never be dispatched.
	queuedErr := make(chan error, 1)
	go func() {
		_, err := controller.Submit(context.Background(), GetRecordingState{})
		queuedErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	controller.Shutdown(ctx)

	select {
	case err := <-queuedErr:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("queued command never resolved")
	}

	close(gate)
	assert.ErrorIs(t, <-stopErr, ErrClosed)
}

func TestSubmitAfterShutdown(t *testing.T) {
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	store := internal_chunkstore.NewMemoryStore(0)
	gateway := &stubGateway{token: "abc"}
	acquirer := internal_surface.NewAcquirer(gateway, store, logger, time.Millisecond, time.Millisecond)
	session, err := internal_session.New(context.Background(), logger, store, gateway, acquirer,
		func(internal_type.AudioSource) internal_session.Recorder { return &scriptedRecorder{} })
	require.NoError(t, err)

	controller := New(logger, session)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	controller.Shutdown(ctx)

	_, err = controller.Submit(context.Background(), GetRecordingState{})
	assert.ErrorIs(t, err, ErrClosed)
}
