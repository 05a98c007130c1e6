package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// APIKey stores only the SHA-256 hash of an issued key. The plaintext key
// is shown once at generation time and cannot be recovered afterwards.
type APIKey struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	UserID     string     `gorm:"not null;index;size:36" json:"user_id"`
	Name       string     `gorm:"not null" json:"name"`
	KeyHash    string     `gorm:"uniqueIndex;not null;size:64" json:"-"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (k *APIKey) BeforeCreate(*gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return nil
}

// Connection is a saved SSH target. The password is never stored; it is
// supplied by the client each time a session is created.
type Connection struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	UserID         string    `gorm:"not null;index;size:36" json:"user_id"`
	Name           string    `gorm:"not null" json:"name"`
	Host           string    `gorm:"not null" json:"host"`
	Port           int       `gorm:"not null;default:22" json:"port"`
	Username       string    `gorm:"not null" json:"username"`
	SSHKeyID       *string   `gorm:"size:36" json:"ssh_key_id,omitempty"` // reserved: key auth is not implemented yet
	StartupCommand *string   `json:"startup_command,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (c *Connection) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

const (
	SessionActive = "active"
	SessionClosed = "closed"
)

type Session struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"not null;index;size:36" json:"user_id"`
	ConnectionID string    `gorm:"not null;index;size:36" json:"connection_id"`
	Status       string    `gorm:"not null;default:active" json:"status"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	LastActivity time.Time `gorm:"autoCreateTime" json:"last_activity"`
}

func (s *Session) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// ScrollbackChunk holds one fixed-size slice of a session's recorded output.
// Chunks for a session are dense and ordered by ChunkIndex starting at 0;
// only the last chunk may be shorter than ChunkMax and only it may grow.
type ScrollbackChunk struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"not null;size:36;uniqueIndex:idx_session_chunk" json:"session_id"`
	ChunkIndex int       `gorm:"not null;uniqueIndex:idx_session_chunk" json:"chunk_index"`
	Data       []byte    `gorm:"not null" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
