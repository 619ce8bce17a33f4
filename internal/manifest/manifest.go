// internal/manifest/manifest.go

// Package manifest persists the adapter's normalized result as a JSON file
// at the top of the working space, written last and atomically so a partial
// manifest is never observable by downstream consumers.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tendant/simple-odm/internal/odm"
)

// FileName is the manifest's fixed name inside the working space.
const FileName = "manifest.json"

// Manifest summarizes one job: status, produced-file mapping, the request
// metadata the job ran under, and diagnostics.
type Manifest struct {
	JobID       string             `json:"job_id"`
	Status      odm.Status         `json:"status"`
	ExitCode    int                `json:"exit_code"`
	Products    []odm.ProducedFile `json:"products"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	ErrorDetail string             `json:"error_detail,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// New builds a Manifest from a Descriptor. metadata is the parsed request
// metadata, nil when the job failed before it was loaded.
func New(jobID string, desc *odm.Descriptor, metadata map[string]any) *Manifest {
	return &Manifest{
		JobID:       jobID,
		Status:      desc.Status,
		ExitCode:    desc.ExitCode,
		Products:    desc.Products,
		Metadata:    metadata,
		ErrorDetail: desc.ErrorDetail,
		GeneratedAt: time.Now().UTC(),
	}
}

// Write persists the manifest under workspace using write-to-temp-then-rename
// in the same directory, and returns the manifest path.
func Write(workspace string, m *Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(workspace, ".manifest-*.json")
	if err != nil {
		return "", fmt.Errorf("create manifest temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close manifest temp file: %w", err)
	}

	final := filepath.Join(workspace, FileName)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename manifest into place: %w", err)
	}
	return final, nil
}

// Load reads a manifest written by Write.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
