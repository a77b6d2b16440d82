// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package capture_channel_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	internal_controller "github.com/rapidaai/capture/api/capture-api/internal/controller"
	"github.com/rapidaai/capture/config"
	"github.com/rapidaai/capture/pkg/commons"
)

// ============================================================================
// WebSocket Message Types
// ============================================================================

// WSMessageType tags a channel message with its command.
type WSMessageType string

const (
	// Request types (client -> server). Data shape per type is fixed.
	WSTypeStartCapture             WSMessageType = "start_capture"               // Data: WSStartCaptureData
	WSTypeStartRecordingWithStream WSMessageType = "start_recording_with_stream" // Data: WSStartRecordingData
	WSTypeStopCapture              WSMessageType = "stop_capture"                // Data: nil
	WSTypeGetRecordingState        WSMessageType = "get_recording_state"         // Data: nil
	WSTypeGetRecordingData         WSMessageType = "get_recording_data"          // Data: nil
	WSTypeClearRecording           WSMessageType = "clear_recording"             // Data: nil
	WSTypeAddRecordingChunk        WSMessageType = "add_recording_chunk"         // Data: WSChunkData

	// Control types (bidirectional)
	WSTypePing WSMessageType = "ping"
	WSTypePong WSMessageType = "pong"
)

// WSRequest is the incoming message envelope.
type WSRequest struct {
	Type      WSMessageType   `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// WSResponse is the outgoing message envelope. Every request gets exactly one
// response with the same Type.
type WSResponse struct {
	Type    WSMessageType `json:"type"`
	Success bool          `json:"success"`
	Data    interface{}   `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// WSStartCaptureData carries the optional target surface.
type WSStartCaptureData struct {
	SurfaceID int `json:"surfaceId"`
}

// WSStartRecordingData carries the negotiated stream token.
type WSStartRecordingData struct {
	StreamToken string `json:"streamToken"`
}

// WSChunkData carries one externally recorded chunk (base64 over the wire).
type WSChunkData struct {
	Chunk []byte `json:"chunk"`
}

var channelUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChannelApi bridges the websocket command channel to the session controller.
type ChannelApi struct {
	cfg        *config.AppConfig
	logger     commons.Logger
	controller *internal_controller.Controller
}

func New(cfg *config.AppConfig, logger commons.Logger, controller *internal_controller.Controller) *ChannelApi {
	return &ChannelApi{cfg: cfg, logger: logger, controller: controller}
}

// Connect upgrades to a websocket and serves the command channel until the
// peer goes away. A disconnect only closes the socket; a live capture keeps
// running and the next connection resynchronizes via get_recording_state.
func (api *ChannelApi) Connect(c *gin.Context) {
	conn, err := channelUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Errorf("websocket upgrade failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to upgrade to WebSocket"})
		return
	}
	defer conn.Close()

	connectionID := uuid.New().String()
	api.logger.Infow("channel connected", "connectionId", connectionID, "remote", conn.RemoteAddr().String())

	var writeMu sync.Mutex
	write := func(resp WSResponse) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(resp); err != nil {
			api.logger.Debugf("channel write failed: %v", err)
		}
	}

	for {
		var req WSRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				api.logger.Warnw("channel closed unexpectedly", "connectionId", connectionID, "error", err)
			}
			// Capture survives the UI going away.
			api.logger.Debugw("channel disconnected, session keeps running", "connectionId", connectionID)
			return
		}

		if req.Type == WSTypePing {
			write(WSResponse{Type: WSTypePong, Success: true})
			continue
		}

		cmd, err := decodeCommand(req)
		if err != nil {
			write(WSResponse{Type: req.Type, Success: false, Error: err.Error()})
			continue
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		resp, err := api.controller.Submit(ctx, cmd)
		cancel()
		if err != nil {
			write(WSResponse{Type: req.Type, Success: false, Error: err.Error()})
			continue
		}
		write(toWSResponse(req.Type, resp))
	}
}

func decodeCommand(req WSRequest) (internal_controller.Command, error) {
	switch req.Type {
	case WSTypeStartCapture:
		var data WSStartCaptureData
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &data); err != nil {
				return nil, err
			}
		}
		return internal_controller.StartCapture{SurfaceID: data.SurfaceID}, nil
	case WSTypeStartRecordingWithStream:
		var data WSStartRecordingData
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &data); err != nil {
				return nil, err
			}
		}
		return internal_controller.StartRecordingWithStream{StreamToken: data.StreamToken}, nil
	case WSTypeStopCapture:
		return internal_controller.StopCapture{}, nil
	case WSTypeGetRecordingState:
		return internal_controller.GetRecordingState{}, nil
	case WSTypeGetRecordingData:
		return internal_controller.GetRecordingData{}, nil
	case WSTypeClearRecording:
		return internal_controller.ClearRecording{}, nil
	case WSTypeAddRecordingChunk:
		var data WSChunkData
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &data); err != nil {
				return nil, err
			}
		}
		return internal_controller.AddRecordingChunk{Chunk: data.Chunk}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", req.Type)
	}
}

func toWSResponse(t WSMessageType, resp internal_controller.Response) WSResponse {
	if !resp.Success {
		return WSResponse{Type: t, Success: false, Error: resp.Error}
	}
	return WSResponse{Type: t, Success: true, Data: resp}
}
