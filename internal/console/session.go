package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

const credentialsFile = "credentials.json"

// Session — аутентифицированный пользователь и его токены.
type Session struct {
	UserID string        `json:"user_id"`
	Email  string        `json:"email"`
	Token  *oauth2.Token `json:"token"`
}

// CredentialStore — хранилище сессии между запусками консоли.
type CredentialStore interface {
	// Load возвращает сохранённую сессию или nil, если её нет.
	Load() (*Session, error)
	Save(sess *Session) error
	Delete() error
}

// FileStore хранит сессию в JSON-файле (~/.sitepanel/credentials.json).
type FileStore struct {
	path string
}

var _ CredentialStore = (*FileStore)(nil)

// NewFileStore создаёт хранилище в домашнем каталоге пользователя.
func NewFileStore() (*FileStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	return NewFileStoreAt(filepath.Join(home, ".sitepanel"))
}

// NewFileStoreAt создаёт хранилище в каталоге dir (права 0700).
func NewFileStoreAt(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return &FileStore{path: filepath.Join(dir, credentialsFile)}, nil
}

// Path возвращает путь к файлу сессии.
func (s *FileStore) Path() string { return s.path }

// Save записывает сессию с правами 0600.
func (s *FileStore) Save(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Load читает сессию. Отсутствие файла — не ошибка.
func (s *FileStore) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return &sess, nil
}

// Delete удаляет файл сессии.
func (s *FileStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
