package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const transcriptFile = "transcript.json"

// Transcript is the persisted history of the last chat session, used by
// `trickle chat --resume`.
type Transcript struct {
	SavedAt  time.Time           `json:"saved_at"`
	ChatURL  string              `json:"chat_url,omitempty"`
	Messages []TranscriptMessage `json:"messages"`
}

type TranscriptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LoadTranscript reads transcript.json from the target directory.
// It returns nil, nil when no transcript has been saved.
func (m *Manager) LoadTranscript(overrideDir string) (*Transcript, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, transcriptFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	t := &Transcript{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parsing transcript: %w", err)
	}

	return t, nil
}

// SaveTranscript writes t to transcript.json, replacing any previous one.
func (m *Manager) SaveTranscript(t *Transcript, overrideDir string) error {
	if t == nil {
		return errors.New("cannot save nil transcript")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if t.SavedAt.IsZero() {
		t.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling transcript: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, transcriptFile), data, 0o600); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}

	return nil
}

// ClearTranscript removes transcript.json. A missing file is not an error.
func (m *Manager) ClearTranscript(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, transcriptFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing transcript: %w", err)
	}

	return nil
}
