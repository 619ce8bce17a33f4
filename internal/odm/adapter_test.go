package odm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeEngine writes an executable script standing in for the engine binary.
// The script receives the adapter's normalized arguments, so $2 is the
// project path from "--project-path <path>".
func fakeEngine(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-odm")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

func TestAdapterEndToEndSuccess(t *testing.T) {
	engine := fakeEngine(t, `
ws="$2"
mkdir -p "$ws/odm_orthophoto" "$ws/odm_georeferencing"
echo tif > "$ws/odm_orthophoto/odm_orthophoto.tif"
echo laz > "$ws/odm_georeferencing/odm_georeferenced_model.laz"
echo "processing complete"`)

	req := setupRequest(t, "dji_0001.jpg", "dji_0002.jpg")
	adapter := NewAdapter(engine, slog.Default())

	inv, err := adapter.Prepare(req)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	for _, arg := range inv.Args {
		if arg == "--gcp" {
			t.Fatalf("invocation must omit GCP argument without a GCP file: %v", inv.Args)
		}
	}

	res := adapter.Execute(context.Background(), inv)
	if res.Status != StatusSuccess {
		t.Fatalf("engine run failed: %+v", res)
	}

	desc, err := Collect(req.WorkingDir, res)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(desc.Products) != 2 {
		t.Fatalf("expected orthomosaic and point cloud, got %+v", desc.Products)
	}
	for _, p := range desc.Products {
		if _, err := os.Stat(filepath.Join(req.WorkingDir, p.Path)); err != nil {
			t.Fatalf("listed product missing on disk: %v", err)
		}
	}
}

func TestAdapterEngineFailure(t *testing.T) {
	engine := fakeEngine(t, `echo "not enough overlap" >&2; exit 1`)

	req := setupRequest(t, "dji_0001.jpg")
	adapter := NewAdapter(engine, slog.Default())

	inv, err := adapter.Prepare(req)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	res := adapter.Execute(context.Background(), inv)
	if res.Status != StatusFailure || res.ExitCode != 1 {
		t.Fatalf("expected exit 1 failure, got %+v", res)
	}

	desc, err := Collect(req.WorkingDir, res)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(desc.Products) != 0 || desc.ErrorDetail == "" {
		t.Fatalf("failure descriptor malformed: %+v", desc)
	}
}

func TestAdapterSuccessWithMissingOutputs(t *testing.T) {
	// Engine claims success but writes only the orthomosaic.
	engine := fakeEngine(t, `
ws="$2"
mkdir -p "$ws/odm_orthophoto"
echo tif > "$ws/odm_orthophoto/odm_orthophoto.tif"`)

	req := setupRequest(t, "dji_0001.jpg")
	adapter := NewAdapter(engine, slog.Default())

	inv, err := adapter.Prepare(req)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	res := adapter.Execute(context.Background(), inv)
	if res.Status != StatusSuccess {
		t.Fatalf("fake engine should report success: %+v", res)
	}

	_, err = Collect(req.WorkingDir, res)
	var partialErr *PartialResultError
	if !errors.As(err, &partialErr) {
		t.Fatalf("expected PartialResultError, got %v", err)
	}
}

func TestAdapterPassesGCPToEngine(t *testing.T) {
	// The fake engine records its arguments so the test can assert on the
	// exact invocation it received.
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	engine := fakeEngine(t, fmt.Sprintf(`
ws="$2"
echo "$@" > %q
mkdir -p "$ws/odm_orthophoto" "$ws/odm_georeferencing"
echo tif > "$ws/odm_orthophoto/odm_orthophoto.tif"
echo laz > "$ws/odm_georeferencing/odm_georeferenced_model.laz"`, argsFile))

	req := setupRequest(t, "dji_0001.jpg")
	writeTestFile(t, filepath.Join(req.ImageDir, GCPFileName), "EPSG:4326")
	adapter := NewAdapter(engine, slog.Default())

	inv, err := adapter.Prepare(req)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if res := adapter.Execute(context.Background(), inv); res.Status != StatusSuccess {
		t.Fatalf("engine run failed: %+v", res)
	}

	recorded, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("fake engine did not record args: %v", err)
	}
	want := "--gcp " + inv.GCPPath
	if got := string(recorded); !strings.Contains(got, want) {
		t.Fatalf("engine args missing %q: %s", want, got)
	}
}
