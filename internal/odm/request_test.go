package odm

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestAdapter() *Adapter {
	return NewAdapter("odm", slog.Default())
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// setupRequest builds a workspace, metadata file and image dir holding the
// named files.
func setupRequest(t *testing.T, imageNames ...string) JobRequest {
	t.Helper()
	workspace := t.TempDir()
	imageDir := t.TempDir()
	metadataPath := filepath.Join(workspace, "experiment.json")
	writeTestFile(t, metadataPath, `{"experiment": "maricopa"}`)
	for _, name := range imageNames {
		writeTestFile(t, filepath.Join(imageDir, name), "image-bytes")
	}
	return JobRequest{WorkingDir: workspace, MetadataPath: metadataPath, ImageDir: imageDir}
}

func TestPrepareEmptyImageDir(t *testing.T) {
	req := setupRequest(t)

	_, err := newTestAdapter().Prepare(req)
	var invalidErr *InvalidInputError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected InvalidInputError for empty image dir, got %v", err)
	}
}

func TestPrepareRejectsNonImageFiles(t *testing.T) {
	req := setupRequest(t, "notes.txt", "readings.csv")

	_, err := newTestAdapter().Prepare(req)
	var invalidErr *InvalidInputError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected InvalidInputError without image files, got %v", err)
	}
}

func TestPrepareMissingMetadata(t *testing.T) {
	req := setupRequest(t, "a.jpg")
	req.MetadataPath = filepath.Join(req.WorkingDir, "missing.json")

	_, err := newTestAdapter().Prepare(req)
	var invalidErr *InvalidInputError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected InvalidInputError for missing metadata, got %v", err)
	}
}

func TestPrepareInvalidMetadataJSON(t *testing.T) {
	req := setupRequest(t, "a.jpg")
	writeTestFile(t, req.MetadataPath, "{not json")

	_, err := newTestAdapter().Prepare(req)
	var invalidErr *InvalidInputError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected InvalidInputError for malformed metadata, got %v", err)
	}
}

func TestPrepareMissingWorkspace(t *testing.T) {
	req := setupRequest(t, "a.jpg")
	req.WorkingDir = filepath.Join(req.WorkingDir, "does-not-exist")

	_, err := newTestAdapter().Prepare(req)
	var invalidErr *InvalidInputError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected InvalidInputError for missing workspace, got %v", err)
	}
}

func TestPrepareStagesImages(t *testing.T) {
	req := setupRequest(t, "a.jpg", "b.tif", "c.tiff", "skip.txt")

	inv, err := newTestAdapter().Prepare(req)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}

	if inv.ImagesDir != filepath.Join(req.WorkingDir, "images") {
		t.Fatalf("unexpected staged images dir: %s", inv.ImagesDir)
	}
	for _, name := range []string{"a.jpg", "b.tif", "c.tiff"} {
		if _, err := os.Lstat(filepath.Join(inv.ImagesDir, name)); err != nil {
			t.Fatalf("image %s not staged: %v", name, err)
		}
	}
	if _, err := os.Lstat(filepath.Join(inv.ImagesDir, "skip.txt")); err == nil {
		t.Fatal("non-image file was staged")
	}
	// originals untouched
	if _, err := os.Stat(filepath.Join(req.ImageDir, "a.jpg")); err != nil {
		t.Fatalf("original image missing after staging: %v", err)
	}
}

func TestPrepareIsRepeatable(t *testing.T) {
	req := setupRequest(t, "a.jpg")
	adapter := newTestAdapter()

	first, err := adapter.Prepare(req)
	if err != nil {
		t.Fatalf("first Prepare returned error: %v", err)
	}
	second, err := adapter.Prepare(req)
	if err != nil {
		t.Fatalf("second Prepare returned error: %v", err)
	}
	if len(first.Args) != len(second.Args) {
		t.Fatalf("Prepare not deterministic: %v vs %v", first.Args, second.Args)
	}
}

func TestPrepareDiscoversConventionalGCPFile(t *testing.T) {
	req := setupRequest(t, "a.jpg")
	writeTestFile(t, filepath.Join(req.ImageDir, GCPFileName), "EPSG:4326")

	inv, err := newTestAdapter().Prepare(req)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}

	count := 0
	for i, arg := range inv.Args {
		if arg == "--gcp" {
			count++
			if i+1 >= len(inv.Args) || inv.Args[i+1] != inv.GCPPath {
				t.Fatalf("--gcp argument not followed by GCP path: %v", inv.Args)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one --gcp argument, got %d (%v)", count, inv.Args)
	}
	if filepath.Base(inv.GCPPath) != GCPFileName {
		t.Fatalf("unexpected staged GCP path: %s", inv.GCPPath)
	}
	if _, err := os.Lstat(inv.GCPPath); err != nil {
		t.Fatalf("GCP file not staged: %v", err)
	}
}

func TestPrepareIgnoresSimilarGCPNames(t *testing.T) {
	req := setupRequest(t, "a.jpg")
	writeTestFile(t, filepath.Join(req.ImageDir, "GCP_LIST.TXT"), "EPSG:4326")
	writeTestFile(t, filepath.Join(req.ImageDir, "gcp-list.txt"), "EPSG:4326")

	inv, err := newTestAdapter().Prepare(req)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if inv.GCPPath != "" {
		t.Fatalf("near-miss GCP filename was picked up: %s", inv.GCPPath)
	}
}

func TestPrepareExplicitGCPWinsOverDiscovery(t *testing.T) {
	req := setupRequest(t, "a.jpg")
	writeTestFile(t, filepath.Join(req.ImageDir, GCPFileName), "discovered")
	explicit := filepath.Join(t.TempDir(), "survey_points.txt")
	writeTestFile(t, explicit, "explicit")
	req.GCPPath = explicit

	inv, err := newTestAdapter().Prepare(req)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if filepath.Base(inv.GCPPath) != "survey_points.txt" {
		t.Fatalf("explicit GCP path did not win: %s", inv.GCPPath)
	}
}

func TestPrepareExplicitGCPMustExist(t *testing.T) {
	req := setupRequest(t, "a.jpg")
	req.GCPPath = filepath.Join(t.TempDir(), "missing.txt")

	_, err := newTestAdapter().Prepare(req)
	var invalidErr *InvalidInputError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected InvalidInputError for missing explicit GCP file, got %v", err)
	}
}

func TestPrepareInjectableDiscovery(t *testing.T) {
	req := setupRequest(t, "a.jpg")
	gcp := filepath.Join(t.TempDir(), "alt_gcps.txt")
	writeTestFile(t, gcp, "EPSG:32612")

	adapter := newTestAdapter()
	adapter.Discover = func(dir string) (string, bool) {
		if dir != req.ImageDir {
			t.Fatalf("discovery called with unexpected dir: %s", dir)
		}
		return gcp, true
	}

	inv, err := adapter.Prepare(req)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if filepath.Base(inv.GCPPath) != "alt_gcps.txt" {
		t.Fatalf("injected discovery result not used: %s", inv.GCPPath)
	}
}

func TestPrepareOverridesFileMustExist(t *testing.T) {
	req := setupRequest(t, "a.jpg")
	req.Overrides = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := newTestAdapter().Prepare(req)
	var invalidErr *InvalidInputError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected InvalidInputError for missing overrides file, got %v", err)
	}
}

func TestPrepareOverridesPassedThroughEnv(t *testing.T) {
	req := setupRequest(t, "a.jpg")
	overrides := filepath.Join(t.TempDir(), "settings.yaml")
	writeTestFile(t, overrides, "fast-orthophoto: true\n")
	req.Overrides = overrides

	inv, err := newTestAdapter().Prepare(req)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	found := false
	for _, kv := range inv.Env {
		if kv == "ODM_SETTINGS="+overrides {
			found = true
		}
	}
	if !found {
		t.Fatalf("overrides file not passed through env: %v", inv.Env)
	}
}

func TestDiscoverGCP(t *testing.T) {
	dir := t.TempDir()
	if _, found := DiscoverGCP(dir); found {
		t.Fatal("discovery reported a GCP file in an empty dir")
	}

	writeTestFile(t, filepath.Join(dir, GCPFileName), "EPSG:4326")
	path, found := DiscoverGCP(dir)
	if !found || filepath.Base(path) != GCPFileName {
		t.Fatalf("conventional GCP file not discovered: %q %v", path, found)
	}
}
