package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store reads and writes the registry file. All methods re-read the file so
// edits made by another process (for example the CLI while the gateway runs)
// are always observed.
type Store struct {
	path string
	mu   sync.Mutex
}

// DefaultPath returns ~/.mcp-gateway/config.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".mcp-gateway", "config.json")
	}
	return filepath.Join(home, ".mcp-gateway", "config.json")
}

// ResolvePath picks the registry path: an explicit value, then
// MCP_GATEWAY_CONFIG, then DefaultPath.
func ResolvePath(explicit string, getenv func(string) string) string {
	if explicit != "" {
		return explicit
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if env := getenv(EnvConfig); env != "" {
		return env
	}
	return DefaultPath()
}

// NewStore returns a Store for path. "~" is expanded to the home directory.
func NewStore(path string) (*Store, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("registry: resolving path %s: %w", path, err)
	}
	return &Store{path: resolved}, nil
}

// Path returns the absolute file path backing the store.
func (s *Store) Path() string { return s.path }

// Load reads the whole document. A missing file yields an empty Config.
func (s *Store) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// List returns every definition in file order.
func (s *Store) List() ([]BackendDefinition, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return cfg.Servers, nil
}

// Get returns the definition with the given id.
func (s *Store) Get(id string) (BackendDefinition, error) {
	cfg, err := s.Load()
	if err != nil {
		return BackendDefinition{}, err
	}
	idx := cfg.Find(id)
	if idx < 0 {
		return BackendDefinition{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return cfg.Servers[idx], nil
}

// Add appends a new definition after validating it.
func (s *Store) Add(def BackendDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.Group == "" {
		def.Group = DefaultGroup
	}
	return s.update(func(cfg *Config) error {
		if cfg.Find(def.ID) >= 0 {
			return fmt.Errorf("%w: %q", ErrDuplicateID, def.ID)
		}
		cfg.Servers = append(cfg.Servers, def)
		return nil
	})
}

// Remove deletes the definition with the given id and returns it.
func (s *Store) Remove(id string) (BackendDefinition, error) {
	var removed BackendDefinition
	err := s.update(func(cfg *Config) error {
		idx := cfg.Find(id)
		if idx < 0 {
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		removed = cfg.Servers[idx]
		cfg.Servers = append(cfg.Servers[:idx], cfg.Servers[idx+1:]...)
		return nil
	})
	return removed, err
}

// SetEnabled flips the enabled flag of a definition.
func (s *Store) SetEnabled(id string, enabled bool) (BackendDefinition, error) {
	var updated BackendDefinition
	err := s.update(func(cfg *Config) error {
		idx := cfg.Find(id)
		if idx < 0 {
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		cfg.Servers[idx].Enabled = enabled
		updated = cfg.Servers[idx]
		return nil
	})
	return updated, err
}

// Init creates the containing directory and an empty document when the file
// does not exist yet. It reports whether a file was created.
func (s *Store) Init() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("registry: stat %s: %w", s.path, err)
	}
	if err := s.saveLocked(&Config{Servers: []BackendDefinition{}}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) update(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return s.saveLocked(cfg)
}

func (s *Store) loadLocked() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("registry: reading %s: %w", s.path, err)
	}
	var cfg Config
	if len(strings.TrimSpace(string(data))) == 0 {
		return &cfg, nil
	}
	if s.isYAML() {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("registry: parsing YAML %s: %w", s.path, err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("registry: parsing JSON %s: %w", s.path, err)
		}
	}
	return &cfg, nil
}

func (s *Store) saveLocked(cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if s.isYAML() {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("registry: encoding %s: %w", s.path, err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("registry: writing %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("registry: writing %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: writing %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: replacing %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) isYAML() bool {
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yml", ".yaml":
		return true
	default:
		return false
	}
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
