package radio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SessionState is the part of the session that must survive a reboot.
type SessionState struct {
	DevAddr string    `yaml:"dev_addr"`
	FCntUp  uint32    `yaml:"fcnt_up"`
	SavedAt time.Time `yaml:"saved_at"`
}

// FileSessionStore keeps SessionState in a YAML file.
type FileSessionStore struct {
	Path string
}

// Load returns the zero state when the file does not exist yet.
func (f FileSessionStore) Load() (SessionState, error) {
	var st SessionState
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("radio: read session file: %w", err)
	}
	if err := yaml.Unmarshal(b, &st); err != nil {
		return SessionState{}, fmt.Errorf("radio: parse session file %s: %w", f.Path, err)
	}
	return st, nil
}

// Save writes through a temporary file so a power cut never leaves a
// truncated session behind.
func (f FileSessionStore) Save(st SessionState) error {
	b, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("radio: encode session: %w", err)
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("radio: create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.yaml")
	if err != nil {
		return fmt.Errorf("radio: create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("radio: write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("radio: write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("radio: replace session file: %w", err)
	}
	return nil
}
