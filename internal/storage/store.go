package storage

import (
	"context"
	"errors"

	"github.com/lorawan-server/lorawan-device-simulator/internal/models"
	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// Store is the frame log of the simulated device
type Store interface {
	// SaveFrame records a frame. A zero ID or CreatedAt is filled in.
	SaveFrame(ctx context.Context, frame *models.Frame) error
	// ListFrames returns the matching frames newest first, plus the total
	// number of matches.
	ListFrames(ctx context.Context, filters FrameFilters, limit, offset int) ([]*models.Frame, int64, error)
	Close() error
}

// FrameFilters narrows ListFrames. Zero values match everything.
type FrameFilters struct {
	DevEUI    *lorawan.EUI64
	Direction models.FrameDirection
	MType     string
}

func (f FrameFilters) match(frame *models.Frame) bool {
	if f.DevEUI != nil && *f.DevEUI != frame.DevEUI {
		return false
	}
	if f.Direction != "" && f.Direction != frame.Direction {
		return false
	}
	if f.MType != "" && f.MType != frame.MType {
		return false
	}
	return true
}

func validateFrame(frame *models.Frame) error {
	if frame == nil {
		return ErrInvalidData
	}
	switch frame.Direction {
	case models.FrameUp, models.FrameDown:
	default:
		return ErrInvalidData
	}
	if len(frame.PHYPayload) == 0 {
		return ErrInvalidData
	}
	return nil
}
