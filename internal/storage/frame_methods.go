package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-device-simulator/internal/models"
)

// SaveFrame inserts a frame log entry
func (s *PostgresStore) SaveFrame(ctx context.Context, frame *models.Frame) error {
	if err := validateFrame(frame); err != nil {
		return err
	}
	if frame.ID == uuid.Nil {
		frame.ID = uuid.New()
	}
	if frame.CreatedAt.IsZero() {
		frame.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO device_frames (
            id, dev_eui, dev_addr, direction, m_type, f_cnt, f_port,
            phy_payload, data, frequency, data_rate, token, metadata, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.db.ExecContext(ctx, query,
		frame.ID, frame.DevEUI[:], frame.DevAddr[:], string(frame.Direction), frame.MType,
		int64(frame.FCnt), frame.FPort, frame.PHYPayload, frame.Data, frame.Frequency,
		frame.DataRate, int64(frame.Token), frame.Metadata, frame.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

// ListFrames lists frames newest first
func (s *PostgresStore) ListFrames(ctx context.Context, filters FrameFilters, limit, offset int) ([]*models.Frame, int64, error) {
	var (
		where []string
		args  []interface{}
	)
	if filters.DevEUI != nil {
		args = append(args, filters.DevEUI[:])
		where = append(where, fmt.Sprintf("dev_eui = $%d", len(args)))
	}
	if filters.Direction != "" {
		args = append(args, string(filters.Direction))
		where = append(where, fmt.Sprintf("direction = $%d", len(args)))
	}
	if filters.MType != "" {
		args = append(args, filters.MType)
		where = append(where, fmt.Sprintf("m_type = $%d", len(args)))
	}

	cond := ""
	if len(where) > 0 {
		cond = "WHERE " + strings.Join(where, " AND ")
	}

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM device_frames "+cond, args...).Scan(&count)
	if err != nil {
		return nil, 0, fmt.Errorf("count frames: %w", err)
	}

	query := fmt.Sprintf(`
        SELECT id, dev_eui, dev_addr, direction, m_type, f_cnt, f_port,
               phy_payload, data, frequency, data_rate, token, metadata, created_at
        FROM device_frames
        %s
        ORDER BY created_at DESC
        LIMIT $%d OFFSET $%d`, cond, len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var frames []*models.Frame
	for rows.Next() {
		var (
			frame                     models.Frame
			devEUIBytes, devAddrBytes []byte
			direction                 string
			fCnt, token               int64
			fPort                     *int16
		)

		err := rows.Scan(
			&frame.ID, &devEUIBytes, &devAddrBytes, &direction, &frame.MType, &fCnt, &fPort,
			&frame.PHYPayload, &frame.Data, &frame.Frequency, &frame.DataRate, &token,
			&frame.Metadata, &frame.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan frame: %w", err)
		}

		copy(frame.DevEUI[:], devEUIBytes)
		copy(frame.DevAddr[:], devAddrBytes)
		frame.Direction = models.FrameDirection(direction)
		frame.FCnt = uint32(fCnt)
		frame.Token = uint16(token)
		if fPort != nil {
			p := uint8(*fPort)
			frame.FPort = &p
		}

		frames = append(frames, &frame)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return frames, count, nil
}
