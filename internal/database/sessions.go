package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CreateSession inserts a new session row with status "active".
func (s *Store) CreateSession(userID, connectionID string) (*Session, error) {
	now := time.Now()
	sess := &Session{
		UserID:       userID,
		ConnectionID: connectionID,
		Status:       SessionActive,
		LastActivity: now,
	}
	if err := s.db.Create(sess).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// FindSession returns the session with the given id, or nil if absent.
func (s *Store) FindSession(id string) (*Session, error) {
	var sess Session
	if err := s.db.Where("id = ?", id).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &sess, nil
}

func (s *Store) ListSessionsForUser(userID string) ([]Session, error) {
	var sessions []Session
	if err := s.db.Where("user_id = ?", userID).Order("last_activity DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ListActiveSessions returns every session row still marked active. Used by
// the startup reconciler to find orphans left behind by a previous process.
func (s *Store) ListActiveSessions() ([]Session, error) {
	var sessions []Session
	if err := s.db.Where("status = ?", SessionActive).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// CloseSessionRow marks a session row closed. The transition is one-way:
// closed rows are never reactivated. Closing twice is a no-op.
func (s *Store) CloseSessionRow(id string) error {
	err := s.db.Model(&Session{}).Where("id = ?", id).Update("status", SessionClosed).Error
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// TouchSession bumps last_activity to now.
func (s *Store) TouchSession(id string) error {
	err := s.db.Model(&Session{}).Where("id = ?", id).Update("last_activity", time.Now()).Error
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}
