// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_surface

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	internal_type "github.com/rapidaai/capture/api/capture-api/internal/type"
	"github.com/rapidaai/capture/pkg/commons"
)

var (
	// ErrStreamConflict means the host still holds an active stream on the
	// surface. Retryable exactly once after the conflict grace interval.
	ErrStreamConflict = errors.New("surface has an active stream")
	// ErrNoStreamAvailable is any other negotiation failure. Terminal.
	ErrNoStreamAvailable = errors.New("no stream available for surface")
)

// IsStreamConflict reports whether err is the host's stream-conflict
// condition. The host reports conflicts as an error string containing
// "active stream", so both the sentinel and the raw message are matched.
func IsStreamConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStreamConflict) {
		return true
	}
	return strings.Contains(err.Error(), "active stream")
}

// Gateway negotiates exclusive capture streams with the host platform.
type Gateway interface {
	// Negotiate requests an exclusive stream token for the surface.
	Negotiate(ctx context.Context, surfaceID int) (*internal_type.CaptureHandle, error)
	// OpenStream opens the live audio byte stream behind a handle.
	OpenStream(ctx context.Context, handle *internal_type.CaptureHandle) (internal_type.AudioSource, error)
	// Release gives the stream token back to the host.
	Release(ctx context.Context, handle *internal_type.CaptureHandle) error
}

type negotiateResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		StreamToken string `json:"stream_token"`
	} `json:"data"`
}

type httpGateway struct {
	client *resty.Client
	logger commons.Logger
}

// NewHTTPGateway builds a Gateway against the host media endpoint.
func NewHTTPGateway(mediaHost string, logger commons.Logger) Gateway {
	client := resty.New().
		SetBaseURL(mediaHost).
		SetTimeout(10 * time.Second)
	return &httpGateway{client: client, logger: logger}
}

func (g *httpGateway) Negotiate(ctx context.Context, surfaceID int) (*internal_type.CaptureHandle, error) {
	var body negotiateResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&body).
		SetPathParam("surfaceId", fmt.Sprintf("%d", surfaceID)).
		Post("/v1/surfaces/{surfaceId}/stream")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoStreamAvailable, err)
	}

	if resp.StatusCode() == http.StatusConflict {
		return nil, fmt.Errorf("%w: surface %d: %s", ErrStreamConflict, surfaceID, body.Error)
	}
	if resp.IsError() || !body.Success {
		if strings.Contains(body.Error, "active stream") {
			return nil, fmt.Errorf("%w: surface %d: %s", ErrStreamConflict, surfaceID, body.Error)
		}
		return nil, fmt.Errorf("%w: surface %d: status %d: %s", ErrNoStreamAvailable, surfaceID, resp.StatusCode(), body.Error)
	}
	if body.Data.StreamToken == "" {
		return nil, fmt.Errorf("%w: surface %d: host returned empty token", ErrNoStreamAvailable, surfaceID)
	}

	return &internal_type.CaptureHandle{
		SurfaceID:   surfaceID,
		StreamToken: body.Data.StreamToken,
		AcquiredAt:  time.Now(),
	}, nil
}

// OpenStream keeps the response body unparsed; the body IS the live stream.
func (g *httpGateway) OpenStream(ctx context.Context, handle *internal_type.CaptureHandle) (internal_type.AudioSource, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetPathParam("token", handle.StreamToken).
		Get("/v1/streams/{token}")
	if err != nil {
		return nil, fmt.Errorf("opening stream %s: %w", handle.StreamToken, err)
	}
	if resp.StatusCode() != http.StatusOK {
		resp.RawBody().Close()
		return nil, fmt.Errorf("opening stream %s: status %d", handle.StreamToken, resp.StatusCode())
	}
	return resp.RawBody(), nil
}

func (g *httpGateway) Release(ctx context.Context, handle *internal_type.CaptureHandle) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("token", handle.StreamToken).
		Delete("/v1/streams/{token}")
	if err != nil {
		return fmt.Errorf("releasing stream %s: %w", handle.StreamToken, err)
	}
	if resp.IsError() {
		return fmt.Errorf("releasing stream %s: status %d", handle.StreamToken, resp.StatusCode())
	}
	return nil
}
