package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"mousebrainz/internal/input"
)

// fileFormat is the persisted shape of a profile.
type fileFormat struct {
	InvertScrolling bool         `json:"invertScrolling"`
	SmoothScrolling bool         `json:"smoothScrolling"`
	Rules           []input.Rule `json:"rules"`
}

func encode(s Snapshot) ([]byte, error) {
	ff := fileFormat{
		InvertScrolling: s.InvertScrolling,
		SmoothScrolling: s.SmoothScrolling,
		Rules:           s.Rules,
	}
	if ff.Rules == nil {
		ff.Rules = []input.Rule{}
	}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses and validates a profile document.
func Decode(data []byte) (Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var ff fileFormat
	if err := dec.Decode(&ff); err != nil {
		return Snapshot{}, fmt.Errorf("decode profile json: %w", err)
	}
	if dec.More() {
		return Snapshot{}, errors.New("decode profile json: unexpected trailing data")
	}

	snap := Snapshot{
		Rules:           ff.Rules,
		InvertScrolling: ff.InvertScrolling,
		SmoothScrolling: ff.SmoothScrolling,
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Load reads the backing file and makes it live. A missing file leaves an
// empty profile in place and is not an error.
func (s *Store) Load() error {
	return s.loadFrom(SourceLoad)
}

// Reload re-reads the backing file. An invalid file is rejected and the
// current snapshot stays live.
func (s *Store) Reload() error {
	return s.loadFrom(SourceReload)
}

func (s *Store) loadFrom(src ChangeSource) error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("profile file not found, starting with an empty profile", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}

	snap, err := Decode(data)
	if err != nil {
		return fmt.Errorf("profile %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitLocked(snap, src); err != nil {
		return err
	}
	s.lastData = data
	s.logger.Info("profile loaded", "path", s.path, "rules", len(snap.Rules))
	return nil
}

// Save writes the current snapshot to the backing file.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encode(s.Current())
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	s.lastData = data
	return nil
}

// isOwnWrite reports whether data matches what the store last read or wrote.
func (s *Store) isOwnWrite(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastData != nil && bytes.Equal(s.lastData, data)
}

// writeFileAtomic writes data to a temp file in the same directory and renames
// it over path, so readers never see a truncated profile.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
