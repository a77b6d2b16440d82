// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_chunkstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	internal_type "github.com/rapidaai/capture/api/capture-api/internal/type"
	"github.com/rapidaai/capture/pkg/commons"
)

// keyPrefix namespaces the capture keys inside the shared redis database.
const keyPrefix = "capture:"

type redisStore struct {
	client *redis.Client
	logger commons.Logger
	// budget caps the serialized chunk snapshot size in bytes.
	budget int
}

// NewRedisStore builds a Store on the shared redis client. budget is the
// maximum serialized snapshot size; writes above it fail with
// ErrQuotaExceeded.
func NewRedisStore(client *redis.Client, logger commons.Logger, budget int) Store {
	return &redisStore{client: client, logger: logger, budget: budget}
}

func key(name string) string { return keyPrefix + name }

// PutChunks serializes the whole chunk list and overwrites the snapshot key
// in a single SET, so no reader can ever observe a half-written list.
func (s *redisStore) PutChunks(ctx context.Context, chunks [][]byte) error {
	payload, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("serializing chunk snapshot: %w", err)
	}
	if s.budget > 0 && len(payload) > s.budget {
		return fmt.Errorf("%w: %d > %d bytes", ErrQuotaExceeded, len(payload), s.budget)
	}
	if err := s.client.Set(ctx, key(KeyRecordingChunks), payload, 0).Err(); err != nil {
		return fmt.Errorf("writing chunk snapshot: %w", err)
	}
	return nil
}

func (s *redisStore) GetChunks(ctx context.Context) ([][]byte, error) {
	payload, err := s.client.Get(ctx, key(KeyRecordingChunks)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk snapshot: %w", err)
	}
	var chunks [][]byte
	if err := json.Unmarshal(payload, &chunks); err != nil {
		return nil, fmt.Errorf("reinflating chunk snapshot: %w", err)
	}
	return chunks, nil
}

// PutMeta writes the identity keys in one pipeline round trip.
func (s *redisStore) PutMeta(ctx context.Context, meta SessionMeta) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key(KeyRecordingStreamID), meta.StreamToken, 0)
	pipe.Set(ctx, key(KeyRecordingSurfaceID), meta.SurfaceID, 0)
	pipe.Set(ctx, key(KeyRecordingStartTime), meta.StartedAt, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing session meta: %w", err)
	}
	return nil
}

func (s *redisStore) GetMeta(ctx context.Context) (*SessionMeta, error) {
	values, err := s.client.MGet(ctx,
		key(KeyRecordingStreamID),
		key(KeyRecordingSurfaceID),
		key(KeyRecordingStartTime),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session meta: %w", err)
	}

	meta := &SessionMeta{}
	present := false
	if v, ok := values[0].(string); ok {
		meta.StreamToken = v
		present = true
	}
	if v, ok := values[1].(string); ok {
		meta.SurfaceID, _ = strconv.Atoi(v)
		present = true
	}
	if v, ok := values[2].(string); ok {
		meta.StartedAt, _ = strconv.ParseInt(v, 10, 64)
		present = true
	}
	if !present {
		return nil, nil
	}
	return meta, nil
}

// Delete removes every recording key together so a reader never observes a
// partial layout.
func (s *redisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx,
		key(KeyRecordingStreamID),
		key(KeyRecordingSurfaceID),
		key(KeyRecordingStartTime),
		key(KeyRecordingChunks),
	).Err(); err != nil {
		return fmt.Errorf("deleting recording keys: %w", err)
	}
	return nil
}

func (s *redisStore) PutPreferences(ctx context.Context, pref internal_type.FormatPreference) error {
	payload, err := json.Marshal(pref)
	if err != nil {
		return fmt.Errorf("serializing preferences: %w", err)
	}
	if err := s.client.Set(ctx, key(KeyPreferences), payload, 0).Err(); err != nil {
		return fmt.Errorf("writing preferences: %w", err)
	}
	return nil
}

func (s *redisStore) GetPreferences(ctx context.Context) (internal_type.FormatPreference, error) {
	payload, err := s.client.Get(ctx, key(KeyPreferences)).Bytes()
	if err == redis.Nil {
		return internal_type.DefaultFormatPreference(), nil
	}
	if err != nil {
		return internal_type.DefaultFormatPreference(), fmt.Errorf("reading preferences: %w", err)
	}
	var pref internal_type.FormatPreference
	if err := json.Unmarshal(payload, &pref); err != nil {
		return internal_type.DefaultFormatPreference(), fmt.Errorf("reinflating preferences: %w", err)
	}
	return pref, nil
}
