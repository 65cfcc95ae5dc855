package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/shaiso/conveyor/internal/domain"
)

// Ошибки хранилища снимков.
var (
	// ErrCheckpointNotFound — снимок для выполнения не найден.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrWorkflowMismatch — снимок принадлежит другому workflow.
	ErrWorkflowMismatch = errors.New("checkpoint belongs to another workflow")
)

// Store — хранилище снимков состояния.
//
// На одно выполнение хранится ровно один снимок: повторный Save
// перезаписывает его на месте, сохраняя исходный CreatedAt.
// Load для отсутствующего выполнения возвращает ошибку,
// разворачиваемую в ErrCheckpointNotFound.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error
	LoadCheckpoint(ctx context.Context, executionID string) (*domain.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, executionID string) error
}

// MemoryStore — хранилище снимков в памяти (тесты и dev-режим).
//
// Снимки хранятся сериализованными, как в jsonb-колонке Postgres:
// Save и Load проходят через JSON, поэтому восстановленные значения
// имеют те же формы (map[string]any, []any, float64), что и при
// чтении из БД, а загруженная копия не делит память с хранилищем.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore создаёт пустое хранилище снимков.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

// SaveCheckpoint сохраняет снимок, перезаписывая предыдущий.
// CreatedAt первого снимка выполнения сохраняется при перезаписи.
func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp *domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := *cp
	if prev, ok := s.items[cp.ExecutionID]; ok {
		var old domain.Checkpoint
		if err := json.Unmarshal(prev, &old); err == nil {
			saved.CreatedAt = old.CreatedAt
		}
	}

	b, err := json.Marshal(&saved)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	s.items[cp.ExecutionID] = b
	return nil
}

// LoadCheckpoint возвращает независимую копию снимка.
func (s *MemoryStore) LoadCheckpoint(_ context.Context, executionID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	b, ok := s.items[executionID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, executionID)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// DeleteCheckpoint удаляет снимок выполнения.
// Удаление отсутствующего снимка не является ошибкой.
func (s *MemoryStore) DeleteCheckpoint(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, executionID)
	return nil
}

// Len возвращает количество сохранённых снимков.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
