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
	"sync"

	internal_type "github.com/rapidaai/capture/api/capture-api/internal/type"
)

// memoryStore is the in-process Store used when redis is not configured. It
// keeps the same snapshot and quota semantics so the session code path is
// identical; it just cannot survive a process restart.
type memoryStore struct {
	mu     sync.Mutex
	budget int

	chunks [][]byte
	meta   *SessionMeta
	pref   *internal_type.FormatPreference
}

// NewMemoryStore builds a process-local Store with the given snapshot budget.
func NewMemoryStore(budget int) Store {
	return &memoryStore{budget: budget}
}

func (s *memoryStore) PutChunks(_ context.Context, chunks [][]byte) error {
	payload, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("serializing chunk snapshot: %w", err)
	}
	if s.budget > 0 && len(payload) > s.budget {
		return fmt.Errorf("%w: %d > %d bytes", ErrQuotaExceeded, len(payload), s.budget)
	}

	snapshot := make([][]byte, len(chunks))
	for i, c := range chunks {
		cp := make([]byte, len(c))
		copy(cp, c)
		snapshot[i] = cp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = snapshot
	return nil
}

func (s *memoryStore) GetChunks(_ context.Context) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunks == nil {
		return nil, nil
	}
	out := make([][]byte, len(s.chunks))
	for i, c := range s.chunks {
		cp := make([]byte, len(c))
		copy(cp, c)
		out[i] = cp
	}
	return out, nil
}

func (s *memoryStore) PutMeta(_ context.Context, meta SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = &meta
	return nil
}

func (s *memoryStore) GetMeta(_ context.Context) (*SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return nil, nil
	}
	meta := *s.meta
	return &meta, nil
}

func (s *memoryStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.meta = nil
	return nil
}

func (s *memoryStore) PutPreferences(_ context.Context, pref internal_type.FormatPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pref = &pref
	return nil
}

func (s *memoryStore) GetPreferences(_ context.Context) (internal_type.FormatPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pref == nil {
		return internal_type.DefaultFormatPreference(), nil
	}
	return *s.pref, nil
}
