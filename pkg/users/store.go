// Package users provides the credential store backing FTP logins: a YAML
// file of bcrypt password hashes, hot-reloaded when the file changes.
package users

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/wharfd/wharfd/internal/logger"
)

// User is one credential entry in the users file.
type User struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// usersFile is the on-disk document shape.
type usersFile struct {
	Users []User `yaml:"users"`
}

// Store holds the loaded credentials and serves Verify calls from the
// protocol engine. Reloads swap the credential map atomically, so a login
// in flight sees either the old or the new file, never a mix.
type Store struct {
	path string

	mu     sync.RWMutex
	hashes map[string]string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	stopped sync.Once
}

// NewStore loads the users file at path. The file must exist and parse, even
// if it lists no users.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:   path,
		hashes: make(map[string]string),
		stopCh: make(chan struct{}),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Verify reports whether the password matches the stored hash for the user.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *Store) Verify(username, password string) bool {
	s.mu.RLock()
	hash, ok := s.hashes[username]
	s.mu.RUnlock()

	if !ok {
		// Burn comparable time for unknown users so response timing does
		// not reveal whether the username exists.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Count returns the number of loaded users.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashes)
}

// Reload re-reads the users file. On any error the previous credentials stay
// in effect.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read users file: %w", err)
	}

	var doc usersFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse users file %s: %w", s.path, err)
	}

	hashes := make(map[string]string, len(doc.Users))
	for _, u := range doc.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return fmt.Errorf("users file %s: entry with empty username or password_hash", s.path)
		}
		if _, dup := hashes[u.Username]; dup {
			return fmt.Errorf("users file %s: duplicate user %q", s.path, u.Username)
		}
		hashes[u.Username] = u.PasswordHash
	}

	s.mu.Lock()
	s.hashes = hashes
	s.mu.Unlock()

	return nil
}

// Watch starts a background goroutine that reloads the store whenever the
// users file is written or replaced. Editors and provisioning tools often
// replace the file via rename, so the parent directory is watched and events
// are filtered to the file itself.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create users file watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch users directory %s: %w", dir, err)
	}

	s.watcher = watcher
	go s.watchLoop()

	logger.Info("Users file hot-reload started", logger.KeyPath, s.path)
	return nil
}

// Close stops the watcher. Safe to call multiple times and on a store that
// was never watched.
func (s *Store) Close() {
	s.stopped.Do(func() {
		close(s.stopCh)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
}

func (s *Store) watchLoop() {
	target := filepath.Clean(s.path)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				logger.Error("Users file reload failed",
					logger.KeyPath, s.path,
					logger.KeyError, err)
				continue
			}
			logger.Info("Users file reloaded",
				logger.KeyPath, s.path,
				"users", s.Count())
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("Users file watcher error", logger.KeyError, err)
		case <-s.stopCh:
			return
		}
	}
}

// HashPassword produces a bcrypt hash suitable for the users file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// dummyHash is a valid bcrypt hash of an unguessable value, used to equalize
// timing for unknown usernames.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("wharfd-timing-pad"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}()
