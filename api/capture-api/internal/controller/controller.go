// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_controller

import (
	"context"
	"errors"

	internal_session "github.com/rapidaai/capture/api/capture-api/internal/session"
	"github.com/rapidaai/capture/pkg/commons"
)

// ============================================================================
// Command set: one closed variant per external command, each carrying only
// its required fields.
// ============================================================================

// Command is the closed set of session commands.
type Command interface{ isCommand() }

// StartCapture negotiates a stream on a surface and returns its token.
type StartCapture struct {
	SurfaceID int
}

// StartRecordingWithStream begins recording against a negotiated token.
type StartRecordingWithStream struct {
	StreamToken string
}

// StopCapture ends the capture and collects the recording.
type StopCapture struct{}

// GetRecordingState queries whether a capture is live / collectable.
type GetRecordingState struct{}

// GetRecordingData collects the current recording without stopping.
type GetRecordingData struct{}

// ClearRecording discards all recording state. Always succeeds.
type ClearRecording struct{}

// AddRecordingChunk appends one externally recorded chunk.
type AddRecordingChunk struct {
	Chunk []byte
}

func (StartCapture) isCommand()             {}
func (StartRecordingWithStream) isCommand() {}
func (StopCapture) isCommand()              {}
func (GetRecordingState) isCommand()        {}
func (GetRecordingData) isCommand()         {}
func (ClearRecording) isCommand()           {}
func (AddRecordingChunk) isCommand()        {}

// Response is the single reply shape. Every submitted command resolves with
// exactly one Response: Success with the fields its command fills, or
// Success=false with Error set. Callers are never left waiting.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// start-capture
	StreamToken string `json:"streamToken,omitempty"`
	Method      string `json:"method,omitempty"`

	// stop-capture / get-recording-data
	AudioBytes      []byte `json:"audioBytes,omitempty"`
	MimeType        string `json:"mimeType,omitempty"`
	FallbackApplied bool   `json:"fallbackApplied,omitempty"`
	HasData         bool   `json:"hasData"`

	// get-recording-state
	IsRecording  bool `json:"isRecording"`
	HasRecording bool `json:"hasRecording"`
}

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("controller is closed")

type envelope struct {
	ctx   context.Context
	cmd   Command
	reply chan Response
}

// Controller is the message-driven façade over the recording session. All
// commands funnel through one dispatch goroutine, mirroring the original
// single-threaded event model: start and stop for the session can never
// interleave.
type Controller struct {
	logger  commons.Logger
	session *internal_session.Session

	cmdCh  chan envelope
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds and starts a controller around the session singleton. The
// controller owns its own context so shutdown is explicit, not inherited.
func New(logger commons.Logger, session *internal_session.Session) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		logger:  logger,
		session: session,
		cmdCh:   make(chan envelope, 16),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Submit runs one command and waits for its response. Commands are serialized
// in submission order.
func (c *Controller) Submit(ctx context.Context, cmd Command) (Response, error) {
	env := envelope{ctx: ctx, cmd: cmd, reply: make(chan Response, 1)}
	select {
	case <-c.ctx.Done():
		return Response{}, ErrClosed
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case c.cmdCh <- env:
	}
	select {
	case <-c.ctx.Done():
		// The dispatch loop may have exited with this envelope still queued;
		// it will never be replied to.
		return Response{}, ErrClosed
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case resp := <-env.reply:
		return resp, nil
	}
}

// Shutdown stops the dispatch loop and suspends the session: best-effort
// resource release, persisted state kept for the next process.
func (c *Controller) Shutdown(ctx context.Context) {
	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	c.session.Suspend(ctx)
}

func (c *Controller) dispatch() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.cmdCh:
			env.reply <- c.handle(env.ctx, env.cmd)
		}
	}
}

func (c *Controller) handle(ctx context.Context, cmd Command) Response {
	switch v := cmd.(type) {
	case StartCapture:
		handle, err := c.session.Negotiate(ctx, v.SurfaceID)
		if err != nil {
			return failure(err)
		}
		return Response{Success: true, StreamToken: handle.StreamToken, Method: "tab"}

	case StartRecordingWithStream:
		if err := c.session.StartRecording(ctx, v.StreamToken); err != nil {
			return failure(err)
		}
		return Response{Success: true}

	case StopCapture:
		result, err := c.session.Stop(ctx)
		if err != nil {
			return failure(err)
		}
		return audioResponse(result)

	case GetRecordingState:
		info := c.session.StateInfo()
		return Response{Success: true, IsRecording: info.IsRecording, HasRecording: info.HasRecording}

	case GetRecordingData:
		result, err := c.session.Data(ctx)
		if err != nil {
			return failure(err)
		}
		return audioResponse(result)

	case ClearRecording:
		c.session.Clear(ctx)
		return Response{Success: true}

	case AddRecordingChunk:
		c.session.AddChunk(ctx, v.Chunk)
		return Response{Success: true}

	default:
		c.logger.Errorf("unknown command %T", cmd)
		return Response{Success: false, Error: "unknown command"}
	}
}

func audioResponse(result internal_session.StopResult) Response {
	resp := Response{Success: true, HasData: result.HasData}
	if result.Audio != nil {
		resp.AudioBytes = result.Audio.Data
		resp.MimeType = result.Audio.MimeType
		resp.FallbackApplied = result.Audio.FallbackApplied
	}
	return resp
}

func failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}
