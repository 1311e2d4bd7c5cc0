package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xela07ax/procurement-approvals/internal/domain"
)

// WorkflowRepo: хранилище экземпляров в памяти процесса (dev, тесты).
// Наружу отдаются только глубокие копии.
type WorkflowRepo struct {
	mu        sync.RWMutex
	instances map[string]*domain.WorkflowInstance
}

func NewWorkflowRepo() *WorkflowRepo {
	return &WorkflowRepo{instances: make(map[string]*domain.WorkflowInstance)}
}

func (r *WorkflowRepo) Get(_ context.Context, documentID string) (*domain.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, documentID)
	}
	return inst.Clone(), nil
}

func (r *WorkflowRepo) History(_ context.Context, documentID string) ([]domain.HistoryEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, documentID)
	}
	out := make([]domain.HistoryEvent, len(inst.History))
	for i, e := range inst.History {
		out[i] = e.Clone()
	}
	return out, nil
}

// Create сохраняет новый экземпляр. Существующий документ -> ErrAlreadySubmitted.
func (r *WorkflowRepo) Create(_ context.Context, inst *domain.WorkflowInstance, _ domain.HistoryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[inst.DocumentID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrAlreadySubmitted, inst.DocumentID)
	}
	r.instances[inst.DocumentID] = inst.Clone()
	return nil
}

// Update заменяет экземпляр, только если сохраненная версия равна expectedVersion.
// Событие уже лежит в inst.History, отдельно его хранить не нужно.
func (r *WorkflowRepo) Update(_ context.Context, inst *domain.WorkflowInstance, expectedVersion int64, _ domain.HistoryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.instances[inst.DocumentID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, inst.DocumentID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: expected %d, stored %d", domain.ErrStaleTransition, expectedVersion, cur.Version)
	}
	r.instances[inst.DocumentID] = inst.Clone()
	return nil
}

func (r *WorkflowRepo) Ping(context.Context) error { return nil }
