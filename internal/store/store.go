// Package store persists submitted prompts in a local SQLite database.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no prompt has the requested id.
var ErrNotFound = errors.New("prompt not found")

// Status is the review state of a prompt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

// ValidStatus reports whether s is one of the known states.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// Prompt is one submitted instruction.
type Prompt struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Content   string    `gorm:"not null" json:"content"`
	Status    Status    `gorm:"not null;default:pending" json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store provides prompt persistence over a gorm-managed SQLite database.
type Store struct {
	db *gorm.DB
}

// Open creates the database file if needed and migrates the schema. The
// connection pool is pinned to a single connection; SQLite serializes writers
// anyway and a single connection avoids busy errors under concurrency.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := gdb.AutoMigrate(&Prompt{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: gdb}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts a new pending prompt and returns it with its assigned id.
func (s *Store) Create(content string) (*Prompt, error) {
	p := Prompt{
		Content:   content,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&p).Error; err != nil {
		return nil, fmt.Errorf("create prompt: %w", err)
	}
	return &p, nil
}

// Get returns the prompt with the given id.
func (s *Store) Get(id int64) (*Prompt, error) {
	var p Prompt
	if err := s.db.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get prompt %d: %w", id, err)
	}
	return &p, nil
}

// List returns all prompts, oldest first.
func (s *Store) List() ([]Prompt, error) {
	var prompts []Prompt
	if err := s.db.Order("id ASC").Find(&prompts).Error; err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return prompts, nil
}

// UpdateStatus sets a prompt's status and returns the updated record.
func (s *Store) UpdateStatus(id int64, status Status) (*Prompt, error) {
	res := s.db.Model(&Prompt{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return nil, fmt.Errorf("update prompt %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(id)
}
