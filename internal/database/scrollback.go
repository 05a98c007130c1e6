package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ChunkMax is the maximum payload size of a single scrollback chunk (64 KB).
const ChunkMax = 65536

// AppendScrollback appends data to a session's scrollback log. The last
// chunk is topped up to ChunkMax first, then new chunks are allocated with
// strictly increasing chunk_index. Appending an empty slice is a no-op.
//
// The session manager guarantees a single writer per session (the
// persistence task), so Append does not need to be atomic against
// concurrent appends on the same session. Concurrent readers observe a
// consistent, monotonically growing prefix.
func (s *Store) AppendScrollback(sessionID string, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	var last ScrollbackChunk
	idx := -1
	err := s.db.Where("session_id = ?", sessionID).Order("chunk_index DESC").First(&last).Error
	switch {
	case err == nil:
		idx = last.ChunkIndex
		if len(last.Data) < ChunkMax {
			n := min(ChunkMax-len(last.Data), len(data))
			grown := append(append([]byte(nil), last.Data...), data[:n]...)
			if err := s.db.Model(&ScrollbackChunk{}).Where("id = ?", last.ID).Update("data", grown).Error; err != nil {
				return fmt.Errorf("extend scrollback chunk: %w", err)
			}
			data = data[n:]
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// first append for this session
	default:
		return fmt.Errorf("locate last scrollback chunk: %w", err)
	}

	for len(data) > 0 {
		idx++
		n := min(ChunkMax, len(data))
		chunk := ScrollbackChunk{
			SessionID:  sessionID,
			ChunkIndex: idx,
			Data:       append([]byte(nil), data[:n]...),
		}
		if err := s.db.Create(&chunk).Error; err != nil {
			return fmt.Errorf("create scrollback chunk %d: %w", idx, err)
		}
		data = data[n:]
	}

	return nil
}

// ReadScrollback returns the full recorded output of a session.
func (s *Store) ReadScrollback(sessionID string) ([]byte, error) {
	return s.ReadScrollbackFrom(sessionID, 0)
}

// ReadScrollbackFrom returns the recorded output starting at the given byte
// offset. An offset at or past the tail yields an empty slice.
func (s *Store) ReadScrollbackFrom(sessionID string, offset int) ([]byte, error) {
	var chunks []ScrollbackChunk
	if err := s.db.Where("session_id = ?", sessionID).Order("chunk_index").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("read scrollback: %w", err)
	}

	var result []byte
	running := 0
	for _, chunk := range chunks {
		end := running + len(chunk.Data)
		if end <= offset {
			running = end
			continue
		}
		start := 0
		if running < offset {
			start = offset - running
		}
		result = append(result, chunk.Data[start:]...)
		running = end
	}

	return result, nil
}

// ScrollbackSize returns the total number of recorded bytes for a session.
func (s *Store) ScrollbackSize(sessionID string) (int, error) {
	var size int64
	err := s.db.Model(&ScrollbackChunk{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(SUM(LENGTH(data)), 0)").
		Scan(&size).Error
	if err != nil {
		return 0, fmt.Errorf("scrollback size: %w", err)
	}
	return int(size), nil
}

// DeleteScrollback removes every chunk for a session.
func (s *Store) DeleteScrollback(sessionID string) error {
	if err := s.db.Where("session_id = ?", sessionID).Delete(&ScrollbackChunk{}).Error; err != nil {
		return fmt.Errorf("delete scrollback: %w", err)
	}
	return nil
}
