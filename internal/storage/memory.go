package storage

import (
	"context"
	"sync"

	"chatdock/internal/clock"
	"chatdock/internal/ident"
)

// The memory backend keeps records in a map plus an insertion-order slice. It
// is process-lifetime scoped and non-persistent; it exists for tests and
// local development, behind the same contract as the durable backends.

type MemoryFolderRepo struct {
	mu    sync.RWMutex
	docs  map[string]Folder
	order []string
	clock *clock.Clock
}

func NewMemoryFolderRepo(clk *clock.Clock) *MemoryFolderRepo {
	return &MemoryFolderRepo{docs: make(map[string]Folder), clock: clk}
}

func (r *MemoryFolderRepo) Get(_ context.Context, id string) (Folder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.docs[id]
	if !ok {
		return Folder{}, ErrNotFound
	}
	return f, nil
}

func (r *MemoryFolderRepo) List(_ context.Context, userID string, limit, offset int) ([]Folder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := make([]Folder, 0)
	for _, id := range r.order {
		if f, ok := r.docs[id]; ok && f.UserID == userID {
			matched = append(matched, f)
		}
	}
	return sliceWindow(matched, limit, offset), nil
}

func (r *MemoryFolderRepo) Create(_ context.Context, dto FolderCreate, identity Identity) (Folder, error) {
	now := r.clock.Now()
	record := Folder{
		ID:        ident.New(),
		Name:      dto.Name,
		Type:      dto.Type,
		CreatedAt: r.clock.Display(now),
		UserID:    identity.UserID,
		Email:     identity.Email,
		Version:   1,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[record.ID] = record
	r.order = append(r.order, record.ID)
	return record, nil
}

func (r *MemoryFolderRepo) Update(_ context.Context, id string, dto FolderUpdate) (Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.docs[id]
	if !ok {
		return Folder{}, ErrNotFound
	}
	if dto.Version != nil && *dto.Version != current.Version {
		return Folder{}, ErrConflict
	}
	next := current.applyPatch(dto)
	next.Version = current.Version + 1
	r.docs[id] = next
	return next, nil
}

func (r *MemoryFolderRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return ErrNotFound
	}
	delete(r.docs, id)
	r.order = removeID(r.order, id)
	return nil
}

type MemoryThreadRepo struct {
	mu    sync.RWMutex
	docs  map[string]ChatThread
	order []string
	clock *clock.Clock
}

func NewMemoryThreadRepo(clk *clock.Clock) *MemoryThreadRepo {
	return &MemoryThreadRepo{docs: make(map[string]ChatThread), clock: clk}
}

func (r *MemoryThreadRepo) Get(_ context.Context, id string) (ChatThread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.docs[id]
	if !ok {
		return ChatThread{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryThreadRepo) List(_ context.Context, userID, folderID string, limit, offset int) ([]ChatThread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := make([]ChatThread, 0)
	for _, id := range r.order {
		t, ok := r.docs[id]
		if !ok || t.UserID != userID {
			continue
		}
		if folderID != "" && t.FolderID != folderID {
			continue
		}
		matched = append(matched, t)
	}
	return sliceWindow(matched, limit, offset), nil
}

func (r *MemoryThreadRepo) Create(_ context.Context, dto ChatThreadCreate, identity Identity) (ChatThread, error) {
	now := r.clock.Now()
	record := ChatThread{
		ID:          ident.New(),
		Name:        dto.Name,
		Prompt:      dto.Prompt,
		Temperature: dto.Temperature,
		FolderID:    dto.FolderID,
		IsShared:    dto.IsShared,
		CreatedAt:   r.clock.Display(now),
		SharedAt:    dto.SharedAt,
		UserID:      identity.UserID,
		Email:       identity.Email,
		Version:     1,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[record.ID] = record
	r.order = append(r.order, record.ID)
	return record, nil
}

func (r *MemoryThreadRepo) Update(_ context.Context, id string, dto ChatThreadUpdate) (ChatThread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.docs[id]
	if !ok {
		return ChatThread{}, ErrNotFound
	}
	if dto.Version != nil && *dto.Version != current.Version {
		return ChatThread{}, ErrConflict
	}
	next := current.applyPatch(dto)
	next.Version = current.Version + 1
	r.docs[id] = next
	return next, nil
}

func (r *MemoryThreadRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return ErrNotFound
	}
	delete(r.docs, id)
	r.order = removeID(r.order, id)
	return nil
}

func sliceWindow[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit >= 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func removeID(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
