// internal/odm/request.go
package odm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// KnownImageExts are the file extensions accepted as source imagery.
// Only the extension is checked as an indication of file type.
var KnownImageExts = []string{".tif", ".tiff", ".jpg"}

// JobRequest describes one photogrammetry job. It is constructed from
// command-line or event input and read-only thereafter.
type JobRequest struct {
	WorkingDir   string
	MetadataPath string
	ImageDir     string

	// GCPPath is an explicit ground-control-point file. When empty, the
	// adapter looks for the conventional filename inside ImageDir. An
	// explicit path wins over a discovered file.
	GCPPath string

	// Overrides is an optional engine settings file handed to the engine
	// through its environment.
	Overrides string
}

// Adapter drives the external photogrammetry engine for one request at a
// time. It holds no mutable state across invocations; concurrent use with
// distinct working directories is safe.
type Adapter struct {
	Engine   string
	Discover GCPDiscovery
	Logger   *slog.Logger
}

// NewAdapter returns an Adapter running the given engine binary with the
// default GCP discovery strategy.
func NewAdapter(engine string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{Engine: engine, Discover: DiscoverGCP, Logger: logger}
}

// Prepare validates the request, stages inputs into the working space and
// derives the engine invocation. All failures are *InvalidInputError; the
// engine is never started for a request that fails here.
func (a *Adapter) Prepare(req JobRequest) (*Invocation, error) {
	meta, err := loadMetadata(req.MetadataPath)
	if err != nil {
		return nil, err
	}

	if err := checkWorkingDir(req.WorkingDir); err != nil {
		return nil, err
	}

	images, err := listImageFiles(req.ImageDir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, &InvalidInputError{Reason: fmt.Sprintf(
			"no image files in %s (accepted extensions: %s)", req.ImageDir, strings.Join(KnownImageExts, ", "))}
	}

	gcpSrc := req.GCPPath
	if gcpSrc != "" {
		if _, err := os.Stat(gcpSrc); err != nil {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("ground control point file not readable: %s", gcpSrc)}
		}
	} else if a.Discover != nil {
		if found, ok := a.Discover(req.ImageDir); ok {
			a.Logger.Debug("discovered ground control point file", "path", found)
			gcpSrc = found
		}
	}

	stagedImages, stagedGCP, err := stageInputs(req.WorkingDir, images, gcpSrc)
	if err != nil {
		return nil, err
	}

	inv := &Invocation{
		Engine:    a.Engine,
		Dir:       req.WorkingDir,
		ImagesDir: stagedImages,
		GCPPath:   stagedGCP,
		Metadata:  meta,
	}
	inv.Args = []string{"--project-path", req.WorkingDir, "--images", stagedImages}
	if stagedGCP != "" {
		inv.Args = append(inv.Args, "--gcp", stagedGCP)
	}
	if req.Overrides != "" {
		if _, err := os.Stat(req.Overrides); err != nil {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("engine overrides file not available: %s", req.Overrides)}
		}
		inv.Env = append(inv.Env, "ODM_SETTINGS="+req.Overrides)
	}
	return inv, nil
}

// loadMetadata reads and parses the structured metadata file.
func loadMetadata(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("unable to load metadata file %q: %v", path, err)}
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("invalid JSON in metadata file %q: %v", path, err)}
	}
	return meta, nil
}

func checkWorkingDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return &InvalidInputError{Reason: fmt.Sprintf("working space does not exist: %s", dir)}
	}
	probe, err := os.CreateTemp(dir, ".odm-probe-*")
	if err != nil {
		return &InvalidInputError{Reason: fmt.Sprintf("working space not writable: %s", dir)}
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// listImageFiles scans dir to a depth of 1 for files with a recognized image
// extension. The result order is stable (directory order as returned by the
// OS, which is sorted).
func listImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("image directory not readable: %s", dir)}
	}
	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isImageFile(entry.Name()) {
			images = append(images, filepath.Join(dir, entry.Name()))
		}
	}
	return images, nil
}

func isImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, known := range KnownImageExts {
		if ext == known {
			return true
		}
	}
	return false
}

// stageInputs links source images into <workspace>/images and the GCP file
// into the workspace root, the layout the engine expects. Inputs already at
// their staged location are left alone; originals are never modified.
func stageInputs(workspace string, images []string, gcpSrc string) (imagesDir, gcpPath string, err error) {
	imagesDir = filepath.Join(workspace, "images")
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return "", "", &InvalidInputError{Reason: fmt.Sprintf("unable to create images folder: %v", err)}
	}
	for _, src := range images {
		dst := filepath.Join(imagesDir, filepath.Base(src))
		if err := linkInput(src, dst); err != nil {
			return "", "", err
		}
	}
	if gcpSrc != "" {
		gcpPath = filepath.Join(workspace, filepath.Base(gcpSrc))
		if err := linkInput(gcpSrc, gcpPath); err != nil {
			return "", "", err
		}
	}
	return imagesDir, gcpPath, nil
}

func linkInput(src, dst string) error {
	if src == dst {
		return nil
	}
	if _, err := os.Lstat(dst); err == nil {
		// already staged by a previous run
		return nil
	}
	if err := os.Symlink(src, dst); err != nil {
		return &InvalidInputError{Reason: fmt.Sprintf("unable to stage %s: %v", src, err)}
	}
	return nil
}
