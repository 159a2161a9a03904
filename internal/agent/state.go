package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PendingCode is a verification code the server handed out but no admin has
// accepted yet.
type PendingCode struct {
	Code        uint32    `yaml:"code"`
	RequestedAt time.Time `yaml:"requested_at"`
}

type State struct {
	Pending *PendingCode `yaml:"pending,omitempty"`
}

// StateFile persists State as yaml. An empty path keeps the state in memory
// only.
type StateFile struct {
	path string
}

func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

func (f *StateFile) Load() (State, error) {
	var state State
	if f.path == "" {
		return state, nil
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("failed to read agent state: %w", err)
	}
	if err := yaml.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to parse agent state %s: %w", f.path, err)
	}
	return state, nil
}

func (f *StateFile) Save(state State) error {
	if f.path == "" {
		return nil
	}
	data, err := yaml.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".agent-state-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
