package store

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Connection kinds
const (
	KindTarget = "target"
	KindRelay  = "relay"
)

// Connection is one finished client connection.
type Connection struct {
	gorm.Model
	Kind         string `gorm:"index"`
	Peer         string `gorm:"index"`
	LU           string
	TerminalType string
	Devname      string
	Functions    string
	TN3270E      bool
	Secure       bool
	StartedAt    time.Time `gorm:"index"`
	EndedAt      time.Time
	BytesIn      int64
	BytesOut     int64
	Error        string
}

func (c Connection) Duration() time.Duration {
	return c.EndedAt.Sub(c.StartedAt)
}

// JoinFunctions renders a function list for the Functions column.
func JoinFunctions[T interface{ String() string }](fs []T) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.String()
	}
	return strings.Join(names, ",")
}

func (s *Store) RecordConnection(c *Connection) error {
	return s.DB.Create(c).Error
}

// RecentConnections returns up to limit connections, newest first. An empty
// kind matches every kind.
func (s *Store) RecentConnections(kind string, limit int) ([]Connection, error) {
	q := s.DB.Order("started_at desc, id desc")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var conns []Connection
	if err := q.Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// ClearConnections permanently deletes connections that started before
// cutoff, returning how many were removed.
func (s *Store) ClearConnections(cutoff time.Time) (int64, error) {
	result := s.DB.Unscoped().Where("started_at < ?", cutoff).Delete(&Connection{})
	return result.RowsAffected, result.Error
}
