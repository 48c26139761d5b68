// Package credentials persists the server's user table: a JSON object file
// mapping username to password hash, mutated only by registration.
package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	scrypt "github.com/elithrar/simple-scrypt"

	"github.com/gonzalop/minidrive/internal/apperr"
)

const usersFile = "users.json"

// validUsername matches printable usernames with no '/' or whitespace.
var validUsername = regexp.MustCompile(`^[^\s/]+$`)

// Store is the on-disk user table rooted at a server root directory.
// Safe for concurrent use; all mutation goes through mu.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open loads (creating if absent) the users.json file under root.
func Open(root string) (*Store, error) {
	s := &Store{path: filepath.Join(root, usersFile)}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := writeAtomic(s.path, map[string]string{}); err != nil {
			return nil, apperr.New(apperr.KindInternal, "create users database: %v", err)
		}
	}
	return s, nil
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "read users database: %v", err)
	}
	users := map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &users); err != nil {
			return nil, apperr.New(apperr.KindInternal, "parse users database: %v", err)
		}
	}
	return users, nil
}

// writeAtomic writes the users map via a temp file + rename so a crash mid
// write never leaves users.json truncated or half-written.
func writeAtomic(path string, users map[string]string) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ValidUsername reports whether user is an acceptable, printable identifier.
func ValidUsername(user string) bool {
	return user != "" && validUsername.MatchString(user)
}

// Exists reports whether user is already registered.
func (s *Store) Exists(user string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return false, err
	}
	_, ok := users[user]
	return ok, nil
}

// Register creates a new user with the given password, hashed with scrypt
// at interactive-login cost parameters. Fails with KindUserExists if the
// user is already registered. The password itself is never retained or
// logged; only the hash is written to disk, atomically (write-rename).
func (s *Store) Register(user, password string) error {
	if !ValidUsername(user) {
		return apperr.New(apperr.KindInvalidCommand, "invalid username: %q", user)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := users[user]; ok {
		return apperr.New(apperr.KindUserExists, "user already exists: %s", user)
	}

	hash, err := scrypt.GenerateFromPassword([]byte(password), scrypt.DefaultParams)
	if err != nil {
		return apperr.New(apperr.KindInternal, "hash password: %v", err)
	}
	users[user] = string(hash)
	if err := writeAtomic(s.path, users); err != nil {
		return apperr.New(apperr.KindInternal, "write users database: %v", err)
	}
	return nil
}

// Verify reports whether password matches the stored hash for user. A
// missing user verifies false rather than erroring.
func (s *Store) Verify(user, password string) (bool, error) {
	s.mu.Lock()
	users, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	hash, ok := users[user]
	if !ok {
		return false, nil
	}
	return scrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}
