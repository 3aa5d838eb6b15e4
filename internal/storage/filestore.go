// Package storage provides a JSON-file session store for single-node
// deployments and tests, interchangeable with the Postgres-backed store.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sellerworks/band-crawler/internal/models"
)

type FileStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	filename string
}

func NewFileStore(filename string) (*FileStore, error) {
	fs := &FileStore{
		sessions: make(map[string]*models.Session),
		filename: filename,
	}

	if err := fs.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return fs, nil
}

// Get returns the stored session for an account, or nil when none
// exists. Absence is not an error.
func (fs *FileStore) Get(_ context.Context, accountID string) (*models.Session, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	session, ok := fs.sessions[accountID]
	if !ok {
		return nil, nil
	}

	copied := *session
	copied.Cookies = append([]models.Cookie(nil), session.Cookies...)
	return &copied, nil
}

// Put stores a session, replacing any previous jar for the account.
func (fs *FileStore) Put(_ context.Context, session *models.Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if session.AccountID == "" {
		return fmt.Errorf("account id is required")
	}

	if session.CapturedAt.IsZero() {
		session.CapturedAt = time.Now()
	}

	copied := *session
	copied.Cookies = append([]models.Cookie(nil), session.Cookies...)
	fs.sessions[session.AccountID] = &copied

	return fs.save()
}

// Delete removes a stored session.
func (fs *FileStore) Delete(_ context.Context, accountID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	delete(fs.sessions, accountID)
	return fs.save()
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &fs.sessions); err != nil {
		return fmt.Errorf("failed to parse session file %s: %w", fs.filename, err)
	}

	return nil
}

func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fs.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}

	tmp := fs.filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	if err := os.Rename(tmp, fs.filename); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	return nil
}
