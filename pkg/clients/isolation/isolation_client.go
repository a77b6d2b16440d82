// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package isolation_client

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rapidaai/capture/pkg/commons"
)

// IsolationServiceClient is the boundary to the remote sound-isolation model
// server. Separation itself happens on the server; this client only moves
// audio in and out of it.
type IsolationServiceClient interface {
	// Health reports whether the server is up and its model is loaded.
	Health(ctx context.Context) (*HealthStatus, error)
	// Separate isolates the sound described by the prompt from the audio.
	Separate(ctx context.Context, req *SeparateRequest) ([]byte, int, error)
	// SeparateResidual returns everything except the described sound.
	SeparateResidual(ctx context.Context, req *SeparateRequest) ([]byte, int, error)
}

// HealthStatus mirrors the server's /health payload.
type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

// SeparateRequest carries one separation call.
type SeparateRequest struct {
	// Audio is the WAV byte stream to separate.
	Audio []byte
	// Description is the text prompt naming the sound to isolate.
	Description string
	// PredictSpans asks the model to also predict time spans.
	PredictSpans bool
	// RerankingCandidates is the candidate count for reranking; zero means
	// the server default.
	RerankingCandidates int
}

type separateWire struct {
	AudioData           string `json:"audio_data"`
	Description         string `json:"description"`
	PredictSpans        bool   `json:"predict_spans,omitempty"`
	RerankingCandidates int    `json:"reranking_candidates,omitempty"`
}

type separateResponse struct {
	Success    bool   `json:"success"`
	AudioData  string `json:"audio_data"`
	SampleRate int    `json:"sample_rate"`
	Error      string `json:"error"`
}

type isolationServiceClient struct {
	client *resty.Client
	logger commons.Logger
}

// NewIsolationServiceClient builds a client against the isolation server
// host.
func NewIsolationServiceClient(host string, logger commons.Logger) IsolationServiceClient {
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(120 * time.Second) // model inference is slow
	return &isolationServiceClient{client: client, logger: logger}
}

func (c *isolationServiceClient) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/health")
	if err != nil {
		return nil, fmt.Errorf("isolation server unreachable: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("isolation server health: status %d", resp.StatusCode())
	}
	return &status, nil
}

func (c *isolationServiceClient) Separate(ctx context.Context, req *SeparateRequest) ([]byte, int, error) {
	return c.call(ctx, "/separate", req)
}

func (c *isolationServiceClient) SeparateResidual(ctx context.Context, req *SeparateRequest) ([]byte, int, error) {
	return c.call(ctx, "/separate_residual", req)
}

func (c *isolationServiceClient) call(ctx context.Context, path string, req *SeparateRequest) ([]byte, int, error) {
	if len(req.Audio) == 0 {
		return nil, 0, fmt.Errorf("audio_data is required")
	}
	if req.Description == "" {
		return nil, 0, fmt.Errorf("description is required")
	}

	var body separateResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&separateWire{
			AudioData:           base64.StdEncoding.EncodeToString(req.Audio),
			Description:         req.Description,
			PredictSpans:        req.PredictSpans,
			RerankingCandidates: req.RerankingCandidates,
		}).
		SetResult(&body).
		SetError(&body).
		Post(path)
	if err != nil {
		return nil, 0, fmt.Errorf("isolation call %s: %w", path, err)
	}
	if resp.IsError() || !body.Success {
		return nil, 0, fmt.Errorf("isolation call %s failed: %s", path, body.Error)
	}

	audio, err := base64.StdEncoding.DecodeString(body.AudioData)
	if err != nil {
		return nil, 0, fmt.Errorf("isolation call %s: decoding audio: %w", path, err)
	}
	return audio, body.SampleRate, nil
}
