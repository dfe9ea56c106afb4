// Package credential stores the CLI session in the system keyring.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/99designs/keyring"

	"github.com/taskpulse/taskpulse/internal/models"
)

const (
	serviceName = "taskpulse"
	sessionKey  = "session"
)

// ErrNotLoggedIn is returned when no session is stored.
var ErrNotLoggedIn = errors.New("not logged in; run 'taskpulse login'")

// Session is the persisted login state.
type Session struct {
	Token   string         `json:"token"`
	API     string         `json:"api"`
	User    models.UserRef `json:"user"`
	SavedAt time.Time      `json:"saved_at"`
}

// Manager reads and writes the session. Safe for concurrent use.
type Manager struct {
	ring    keyring.Keyring
	mu      sync.RWMutex
	session *Session
}

// openKeyring returns a keyring that prefers OS stores and falls back to an
// encrypted file under ~/.config/taskpulse/credentials.
func openKeyring() (keyring.Keyring, error) {
	dir := filepath.Join(".", ".taskpulse-credentials")
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", serviceName, "credentials")
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt("taskpulse-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// NewManager opens the system keyring and loads any stored session.
func NewManager() (*Manager, error) {
	ring, err := openKeyring()
	if err != nil {
		return nil, err
	}
	return NewManagerWithKeyring(ring), nil
}

// NewManagerWithKeyring uses ring directly.
func NewManagerWithKeyring(ring keyring.Keyring) *Manager {
	m := &Manager{ring: ring}
	_ = m.load()
	return m
}

func (m *Manager) load() error {
	item, err := m.ring.Get(sessionKey)
	if err != nil {
		return err
	}
	var s Session
	if err := json.Unmarshal(item.Data, &s); err != nil {
		return fmt.Errorf("decoding stored session: %w", err)
	}
	m.mu.Lock()
	m.session = &s
	m.mu.Unlock()
	return nil
}

// IsAuthenticated reports whether a token is stored.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil && m.session.Token != ""
}

// Session returns a copy of the stored session or ErrNotLoggedIn.
func (m *Manager) Session() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil || m.session.Token == "" {
		return Session{}, ErrNotLoggedIn
	}
	return *m.session, nil
}

// Save stores s, replacing any previous session.
func (m *Manager) Save(s Session) error {
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := m.ring.Set(keyring.Item{Key: sessionKey, Data: data, Label: "taskpulse session"}); err != nil {
		return fmt.Errorf("setting credential %q: %w", sessionKey, err)
	}
	m.mu.Lock()
	m.session = &s
	m.mu.Unlock()
	return nil
}

// Logout clears the stored session. Logging out twice is not an error.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()

	if err := m.ring.Remove(sessionKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", sessionKey, err)
	}
	return nil
}
