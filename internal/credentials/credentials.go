// Package credentials holds the shared access key and the static list of
// "username:secret" keys clients authenticate with. A Store is loaded once
// at startup and is read-only afterwards.
package credentials

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

var (
	ErrNoAccessKey = errors.New("access key is empty")
	ErrNoUsers     = errors.New("no user keys configured")
	ErrBadUserKey  = errors.New("malformed user key")
)

// Store is the immutable credential set.
type Store struct {
	accessKey string
	userKeys  map[string]struct{}
	names     map[string]struct{}
}

// New validates and indexes the given keys. Every user key must have the
// form "username:secret" with a non-empty username.
func New(accessKey string, userKeys []string) (*Store, error) {
	if accessKey == "" {
		return nil, ErrNoAccessKey
	}
	s := &Store{
		accessKey: accessKey,
		userKeys:  make(map[string]struct{}, len(userKeys)),
		names:     make(map[string]struct{}, len(userKeys)),
	}
	for _, k := range userKeys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		name := Username(k)
		if name == "" || !strings.Contains(k, ":") {
			return nil, fmt.Errorf("%w: %q", ErrBadUserKey, k)
		}
		s.userKeys[k] = struct{}{}
		s.names[name] = struct{}{}
	}
	if len(s.userKeys) == 0 {
		return nil, ErrNoUsers
	}
	return s, nil
}

// Username returns the part of a user key before the first colon.
func Username(userKey string) string {
	name, _, _ := strings.Cut(userKey, ":")
	return name
}

// Valid reports whether accessKey matches and userKey is one of the
// configured keys.
func (s *Store) Valid(accessKey, userKey string) bool {
	if subtle.ConstantTimeCompare([]byte(accessKey), []byte(s.accessKey)) != 1 {
		return false
	}
	_, ok := s.userKeys[userKey]
	return ok
}

// Known reports whether name belongs to a configured user.
func (s *Store) Known(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Names lists configured usernames in sorted order.
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ParseUserKeys reads one user key per line. Blank lines and lines starting
// with '#' are skipped.
func ParseUserKeys(r io.Reader) ([]string, error) {
	var keys []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read user keys: %w", err)
	}
	return keys, nil
}

// LoadFile builds a Store from accessKey and the user keys listed in path.
// Extra inline keys are appended to the file contents.
func LoadFile(accessKey, path string, inline []string) (*Store, error) {
	keys := append([]string{}, inline...)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open users file: %w", err)
		}
		defer f.Close()
		fromFile, err := ParseUserKeys(f)
		if err != nil {
			return nil, err
		}
		keys = append(keys, fromFile...)
	}
	return New(accessKey, keys)
}
