// cmd/transform runs one photogrammetry job from the command line: it stages
// the source imagery, drives the external engine to completion, verifies the
// declared output products and writes the manifest.
//
// Usage:
//
//	transform --working_space /mnt --metadata /mnt/experiment.json /mnt/2021-05-01
//	transform --working_space /mnt --metadata /mnt/experiment.json --gcp /data/gcp_list.txt /mnt/2021-05-01
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tendant/simple-odm/internal/img"
	"github.com/tendant/simple-odm/internal/manifest"
	"github.com/tendant/simple-odm/internal/odm"
)

// Exit codes distinguish the failure classes for the calling pipeline.
const (
	exitOK           = 0
	exitUsage        = 1
	exitInvalidInput = 2
	exitProcess      = 3
	exitPartial      = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("transform", flag.ContinueOnError)
	workingSpace := fs.String("working_space", "", "Working space directory (required)")
	metadata := fs.String("metadata", "", "Path to the metadata JSON file (required)")
	gcp := fs.String("gcp", "", "Explicit ground control point file (overrides discovery)")
	overrides := fs.String("odm_overrides", "", "File containing engine configuration overrides")
	preview := fs.Bool("preview", false, "Render a PNG preview of the orthomosaic on success")
	timeout := fs.Int("timeout", 0, "Overall timeout in minutes (0 = no timeout)")
	verbose := fs.Bool("v", false, "Verbose output")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *workingSpace == "" || *metadata == "" {
		fmt.Fprintln(os.Stderr, "Error: --working_space and --metadata are required")
		fs.Usage()
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one source image directory argument is required")
		fs.Usage()
		return exitUsage
	}

	req := odm.JobRequest{
		WorkingDir:   *workingSpace,
		MetadataPath: *metadata,
		ImageDir:     fs.Arg(0),
		GCPPath:      *gcp,
		Overrides:    *overrides,
	}

	jobID := uuid.NewString()
	jobLogger := logger.With("job_id", jobID)
	adapter := odm.NewAdapter(getenv("ODM_BIN", "odm"), jobLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*timeout)*time.Minute)
		defer cancel()
	}

	inv, err := adapter.Prepare(req)
	if err != nil {
		jobLogger.Error("input validation failed", "err", err)
		return exitInvalidInput
	}
	jobLogger.Info("prepared invocation", "images_dir", inv.ImagesDir, "gcp", inv.GCPPath)

	res := adapter.Execute(ctx, inv)
	if res.Status != odm.StatusSuccess {
		jobLogger.Error("engine run failed", "exit_code", res.ExitCode, "err", res.Err)
		writeFailureManifest(jobID, req.WorkingDir, res, inv.Metadata, jobLogger)
		return exitProcess
	}

	desc, err := odm.Collect(req.WorkingDir, res)
	if err != nil {
		jobLogger.Error("output verification failed", "err", err)
		writeFailureManifest(jobID, req.WorkingDir, odm.Result{
			Status:   odm.StatusFailure,
			ExitCode: res.ExitCode,
			Err:      err,
		}, inv.Metadata, jobLogger)
		var partialErr *odm.PartialResultError
		if errors.As(err, &partialErr) {
			return exitPartial
		}
		return exitProcess
	}

	if *preview {
		renderPreview(req.WorkingDir, desc, jobLogger)
	}

	path, err := manifest.Write(req.WorkingDir, manifest.New(jobID, desc, inv.Metadata))
	if err != nil {
		jobLogger.Error("manifest write failed", "err", err)
		return exitProcess
	}
	jobLogger.Info("job complete", "manifest", path, "products", len(desc.Products))
	return exitOK
}

// renderPreview is best effort: the preview is a convenience product and its
// failure never fails the job.
func renderPreview(workspace string, desc *odm.Descriptor, logger *slog.Logger) {
	for _, p := range desc.Products {
		if p.Name != "orthomosaic" {
			continue
		}
		src := filepath.Join(workspace, p.Path)
		dst := img.PreviewPath(src)
		w, h, err := img.RenderPreview(src, dst, img.PreviewSize, img.PreviewSize)
		if err != nil {
			logger.Warn("preview render failed", "src", src, "err", err)
			return
		}
		logger.Info("rendered orthomosaic preview", "path", dst, "width", w, "height", h)
		return
	}
}

func writeFailureManifest(jobID, workspace string, res odm.Result, metadata map[string]any, logger *slog.Logger) {
	desc, _ := odm.Collect(workspace, res)
	if desc == nil {
		return
	}
	if _, err := manifest.Write(workspace, manifest.New(jobID, desc, metadata)); err != nil {
		logger.Warn("failure manifest write failed", "err", err)
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
