// Package store keeps the small amount of state carried between builds.
package store

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/twpayne/go-vfs/v4"
)

const (
	KeyLastBuildID     = "LAST_BUILD_ID"
	KeyLastBuildTime   = "LAST_BUILD_TIME"
	KeyLastBuildStatus = "LAST_BUILD_STATUS"
	KeyLastBuildOutput = "LAST_BUILD_OUTPUT"
	KeyVersion         = "MASTERBOOTER_VERSION"

	toolPrefix = "TOOL_"
)

var keyRe = regexp.MustCompile(`[^A-Z0-9_]+`)

// Store is a flat key/value state file.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Load() error
	Save() error
}

// ToolKey is the key holding the enabled state of the named tool.
func ToolKey(name string) string {
	return toolPrefix + strings.Trim(keyRe.ReplaceAllString(strings.ToUpper(name), "_"), "_")
}

// EnvStore keeps the values in an env file.
type EnvStore struct {
	FS   vfs.FS
	Path string

	mu     sync.Mutex
	values map[string]string
}

func NewEnvStore(fs vfs.FS, path string) *EnvStore {
	return &EnvStore{FS: fs, Path: path, values: map[string]string{}}
}

// Load replaces the in-memory values with the file content. A missing file is an empty store.
func (s *EnvStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := utils.ReadEnv(s.FS, s.Path)
	if err != nil {
		if utils.IsNotExist(err) {
			s.values = map[string]string{}
			return nil
		}
		return fmt.Errorf("reading state %s: %w", s.Path, err)
	}
	s.values = values
	return nil
}

func (s *EnvStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := godotenv.Marshal(s.values)
	if err != nil {
		return err
	}
	if err = utils.CreateIfNotExists(s.FS, filepath.Dir(s.Path)); err != nil {
		return err
	}
	return s.FS.WriteFile(s.Path, []byte(content+"\n"), 0o644)
}

func (s *EnvStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *EnvStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key] = value
}

// Keys returns the stored keys in order.
func (s *EnvStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
