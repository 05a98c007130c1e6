package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

func (s *Store) CreateConnection(c *Connection) error {
	if err := s.db.Create(c).Error; err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

// FindConnection returns the connection with the given id, or nil if absent.
func (s *Store) FindConnection(id string) (*Connection, error) {
	var c Connection
	if err := s.db.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find connection: %w", err)
	}
	return &c, nil
}

func (s *Store) ListConnectionsForUser(userID string) ([]Connection, error) {
	var conns []Connection
	if err := s.db.Where("user_id = ?", userID).Order("created_at").Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return conns, nil
}

// UpdateConnection rewrites the mutable fields of an existing connection.
// Ownership is checked by the caller.
func (s *Store) UpdateConnection(c *Connection) error {
	err := s.db.Model(&Connection{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
		"name":            c.Name,
		"host":            c.Host,
		"port":            c.Port,
		"username":        c.Username,
		"ssh_key_id":      c.SSHKeyID,
		"startup_command": c.StartupCommand,
	}).Error
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	return nil
}

func (s *Store) DeleteConnection(id string) (bool, error) {
	res := s.db.Where("id = ?", id).Delete(&Connection{})
	if res.Error != nil {
		return false, fmt.Errorf("delete connection: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
