package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-device-simulator/internal/models"
)

// MemoryStore keeps the most recent frames in a fixed-size ring
type MemoryStore struct {
	mu     sync.RWMutex
	frames []*models.Frame
	next   int
	full   bool
}

// NewMemoryStore returns a store holding at most size frames
func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = 1
	}
	return &MemoryStore{frames: make([]*models.Frame, size)}
}

// SaveFrame stores a copy of frame, evicting the oldest entry when full
func (s *MemoryStore) SaveFrame(ctx context.Context, frame *models.Frame) error {
	if err := validateFrame(frame); err != nil {
		return err
	}
	if frame.ID == uuid.Nil {
		frame.ID = uuid.New()
	}
	if frame.CreatedAt.IsZero() {
		frame.CreatedAt = time.Now()
	}

	f := *frame

	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames[s.next] = &f
	s.next = (s.next + 1) % len(s.frames)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// ListFrames returns matching frames newest first
func (s *MemoryStore) ListFrames(ctx context.Context, filters FrameFilters, limit, offset int) ([]*models.Frame, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.frames)
	}

	var (
		out   []*models.Frame
		total int64
	)
	for i := 0; i < n; i++ {
		idx := (s.next - 1 - i + len(s.frames)) % len(s.frames)
		f := s.frames[idx]
		if !filters.match(f) {
			continue
		}
		total++
		if total <= int64(offset) || (limit > 0 && len(out) >= limit) {
			continue
		}
		c := *f
		out = append(out, &c)
	}
	return out, total, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
