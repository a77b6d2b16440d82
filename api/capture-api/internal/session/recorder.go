// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	internal_type "github.com/rapidaai/capture/api/capture-api/internal/type"
	"github.com/rapidaai/capture/pkg/commons"
)

// DataFunc receives one recorded chunk. Chunks are delivered in strict
// temporal order; the callback must not be invoked concurrently.
type DataFunc func(chunk []byte)

// Recorder is the chunked recorder driver: it periodically emits buffered
// audio data instead of one end-of-session blob.
type Recorder interface {
	// Start begins delivery. onData fires at the recorder's interval with
	// every non-empty buffered chunk.
	Start(onData DataFunc) error
	// Flush emits any buffered-but-undelivered data immediately, so the last
	// partial interval is not lost on stop.
	Flush()
	// Stop ends delivery and blocks until the recorder has acknowledged,
	// emitting one final chunk for whatever remained buffered.
	Stop(ctx context.Context) error
	// Supports reports whether the recorder natively produces the container.
	Supports(c internal_type.Container) bool
}

const readChunkSize = 4096

// streamRecorder drains an AudioSource into an interval-flushed buffer. The
// source delivers raw little-endian PCM, so the only natively supported
// container is WAV; anything else degrades at encode time.
type streamRecorder struct {
	logger   commons.Logger
	src      internal_type.AudioSource
	interval time.Duration

	bufMu sync.Mutex
	buf   bytes.Buffer

	// emitMu serializes drain-and-emit so ticker, Flush and Stop can never
	// reorder chunks.
	emitMu sync.Mutex
	onData DataFunc

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewStreamRecorder builds a Recorder over a live audio source with the given
// delivery interval.
func NewStreamRecorder(logger commons.Logger, src internal_type.AudioSource, interval time.Duration) Recorder {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &streamRecorder{
		logger:   logger,
		src:      src,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (r *streamRecorder) Start(onData DataFunc) error {
	if onData == nil {
		return errors.New("recorder needs a data callback")
	}
	started := false
	r.startOnce.Do(func() {
		started = true
		r.onData = onData

		r.wg.Add(2)
		go r.readLoop()
		go r.tickLoop()
	})
	if !started {
		return errors.New("recorder already started")
	}
	return nil
}

// readLoop pulls bytes off the source into the pending buffer. Read errors
// are recorder faults: logged, never fatal. Chunks captured so far stay
// usable and the session keeps running.
func (r *streamRecorder) readLoop() {
	defer r.wg.Done()
	scratch := make([]byte, readChunkSize)
	for {
		select {
		case <-r.done:
			return
		default:
		}

		n, err := r.src.Read(scratch)
		if n > 0 {
			r.bufMu.Lock()
			r.buf.Write(scratch[:n])
			r.bufMu.Unlock()
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, io.ErrClosedPipe) {
				r.logger.Errorf("recorder source fault: %v", err)
			}
			return
		}
	}
}

func (r *streamRecorder) tickLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.emit()
		}
	}
}

// emit drains whatever is buffered and hands it to the callback. Empty
// intervals produce no callback.
func (r *streamRecorder) emit() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.bufMu.Lock()
	if r.buf.Len() == 0 {
		r.bufMu.Unlock()
		return
	}
	chunk := make([]byte, r.buf.Len())
	r.buf.Read(chunk)
	r.bufMu.Unlock()

	r.onData(chunk)
}

func (r *streamRecorder) Flush() {
	r.emit()
}

// Stop unblocks the reader by closing the source, waits for both loops to
// acknowledge, then performs one final drain.
func (r *streamRecorder) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		close(r.done)
		// Unblock a reader parked in Read.
		if err := r.src.Close(); err != nil {
			r.logger.Debugf("closing recorder source: %v", err)
		}
	})

	acked := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(acked)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-acked:
	}

	r.emit()
	return nil
}

func (r *streamRecorder) Supports(c internal_type.Container) bool {
	return c == internal_type.ContainerWAV
}
