package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bakkerme/filepoll/internal/core"
)

// RunIDPlaceholder in a manifest path is replaced by the run id.
const RunIDPlaceholder = "{{run_id}}"

// Manifest is the JSON document written for every run. A run that admitted
// nothing still writes one, with count 0 and an empty block list.
type Manifest struct {
	FlowID      string            `json:"flow_id"`
	RunID       string            `json:"run_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Count       int               `json:"count"`
	Blocks      []*core.ItemBlock `json:"blocks"`
}

// ResolvePath expands the run id placeholder in pattern.
func ResolvePath(pattern, runID string) string {
	return strings.ReplaceAll(pattern, RunIDPlaceholder, runID)
}

// Save writes m to path, creating parent directories. The file is written
// to a temporary sibling and renamed so readers never see a partial manifest.
func Save(path string, m Manifest) error {
	if path == "" {
		return fmt.Errorf("manifest path is required")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create manifest directory: %w", err)
		}
	}
	m.Count = len(m.Blocks)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

func Load(path string) (*Manifest, error) {
	if path == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}
