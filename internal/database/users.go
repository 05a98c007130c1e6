package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gluk-w/hive-server/internal/auth"
)

func (s *Store) CreateUser(username string) (*User, error) {
	u := &User{Username: username}
	if err := s.db.Create(u).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// FindUser returns the user with the given id, or nil if absent.
func (s *Store) FindUser(id string) (*User, error) {
	var u User
	if err := s.db.Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *Store) FindUserByUsername(username string) (*User, error) {
	var u User
	if err := s.db.Where("username = ?", username).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUsers() ([]User, error) {
	var users []User
	if err := s.db.Order("created_at").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CreateAPIKey persists the hash of a freshly generated key for a user.
// The caller is responsible for showing the plaintext key to the operator.
func (s *Store) CreateAPIKey(userID, name, key string) (*APIKey, error) {
	k := &APIKey{UserID: userID, Name: name, KeyHash: auth.HashKey(key)}
	if err := s.db.Create(k).Error; err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}
	return k, nil
}

// ValidateAPIKey resolves a plaintext key to its owning user by hash lookup.
// On a hit the key's last_used_at is bumped. A miss returns (nil, nil, nil).
func (s *Store) ValidateAPIKey(key string) (*APIKey, *User, error) {
	var k APIKey
	if err := s.db.Where("key_hash = ?", auth.HashKey(key)).First(&k).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("validate api key: %w", err)
	}

	user, err := s.FindUser(k.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, fmt.Errorf("validate api key: user %s not found", k.UserID)
	}

	now := time.Now()
	if err := s.db.Model(&APIKey{}).Where("id = ?", k.ID).Update("last_used_at", now).Error; err != nil {
		return nil, nil, fmt.Errorf("update api key last_used_at: %w", err)
	}
	k.LastUsedAt = &now

	return &k, user, nil
}

func (s *Store) ListAPIKeysForUser(userID string) ([]APIKey, error) {
	var keys []APIKey
	if err := s.db.Where("user_id = ?", userID).Order("created_at").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey deletes the key matching the given plaintext key. It reports
// whether a key was actually removed; revoking twice is a no-op.
func (s *Store) RevokeAPIKey(key string) (bool, error) {
	res := s.db.Where("key_hash = ?", auth.HashKey(key)).Delete(&APIKey{})
	if res.Error != nil {
		return false, fmt.Errorf("revoke api key: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
