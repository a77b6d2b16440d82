// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/rapidaai/capture/api/capture-api/internal/type"
	"github.com/rapidaai/capture/pkg/commons"
)

type chunkSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (s *chunkSink) collect(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
}

func (s *chunkSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

func (s *chunkSink) total() []byte {
	var all []byte
	for _, c := range s.snapshot() {
		all = append(all, c...)
	}
	return all
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newPipeRecorder(t *testing.T, interval time.Duration) (Recorder, *io.PipeWriter, *chunkSink) {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	pr, pw := io.Pipe()
	rec := NewStreamRecorder(logger, pr, interval)
	sink := &chunkSink{}
	require.NoError(t, rec.Start(sink.collect))
	return rec, pw, sink
}

func TestStreamRecorderDeliversAtInterval(t *testing.T) {
	rec, pw, sink := newPipeRecorder(t, 20*time.Millisecond)
	defer rec.Stop(testContext(t))

	payload := bytes.Repeat([]byte{0x42}, 300)
	_, err := pw.Write(payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.total()) == len(payload)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, payload, sink.total())
}

func TestStreamRecorderFlushEmitsImmediately(t *testing.T) {
	// Long interval: only Flush can deliver within the test window.
	rec, pw, sink := newPipeRecorder(t, time.Hour)
	defer rec.Stop(testContext(t))

	_, err := pw.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	// The pipe hands bytes to the reader synchronously, but give the read
	// loop a moment to buffer them.
	require.Eventually(t, func() bool {
		rec.Flush()
		return len(sink.total()) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestStreamRecorderStopEmitsFinalChunk(t *testing.T) {
	rec, pw, sink := newPipeRecorder(t, time.Hour)

	// io.Pipe writes are synchronous, so the read loop holds the bytes once
	// Write returns; the sleep only covers the hand-off into the buffer.
	_, err := pw.Write([]byte{7, 8})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, rec.Stop(testContext(t)))
	assert.Equal(t, []byte{7, 8}, sink.total())
}

func TestStreamRecorderPreservesByteOrder(t *testing.T) {
	rec, pw, sink := newPipeRecorder(t, 5*time.Millisecond)

	var want []byte
	for i := 0; i < 50; i++ {
		b := []byte{byte(i)}
		want = append(want, b...)
		_, err := pw.Write(b)
		require.NoError(t, err)
	}
	pw.Close()

	require.Eventually(t, func() bool {
		return len(sink.total()) == len(want)
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, rec.Stop(testContext(t)))
	assert.Equal(t, want, sink.total())
}

func TestStreamRecorderSourceFaultIsNonFatal(t *testing.T) {
	rec, pw, sink := newPipeRecorder(t, 10*time.Millisecond)

	_, err := pw.Write([]byte{1})
	require.NoError(t, err)
	pw.CloseWithError(io.ErrUnexpectedEOF)

	// Captured bytes stay collectable after the fault.
	require.Eventually(t, func() bool {
		return len(sink.total()) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, rec.Stop(testContext(t)))
}

func TestStreamRecorderDoubleStartRejected(t *testing.T) {
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	pr, _ := io.Pipe()
	rec := NewStreamRecorder(logger, pr, time.Second)

	require.NoError(t, rec.Start(func([]byte) {}))
	assert.Error(t, rec.Start(func([]byte) {}))
	require.NoError(t, rec.Stop(testContext(t)))
}

func TestStreamRecorderSupportsOnlyWAV(t *testing.T) {
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	pr, _ := io.Pipe()
	rec := NewStreamRecorder(logger, pr, time.Second)

	assert.True(t, rec.Supports(internal_type.ContainerWAV))
	assert.False(t, rec.Supports(internal_type.ContainerWebM))
	assert.False(t, rec.Supports(internal_type.ContainerOGG))
	assert.False(t, rec.Supports(internal_type.ContainerMP3))
}
