// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"
	simpleconfig "github.com/tendant/simple-content/pkg/simplecontent/config"

	"github.com/tendant/simple-odm/internal/bus"
	"github.com/tendant/simple-odm/internal/img"
	"github.com/tendant/simple-odm/internal/manifest"
	"github.com/tendant/simple-odm/internal/odm"
	"github.com/tendant/simple-odm/internal/upload"
	"github.com/tendant/simple-odm/pkg/schema"
)

type config struct {
	NATSURL       string
	JobSubject    string
	WorkerQueue   string
	ResultSubject string
	EngineBin     string
	Preview       bool
	JobTimeout    time.Duration
}

func loadConfig() (config, error) {
	cfg := config{
		NATSURL:       getenv("NATS_URL", "nats://127.0.0.1:4222"),
		JobSubject:    getenv("ODM_JOB_SUBJECT", "photogrammetry.jobs"),
		WorkerQueue:   getenv("ODM_WORKER_QUEUE", "photogrammetry-workers"),
		ResultSubject: getenv("ODM_RESULT_SUBJECT", "photogrammetry.jobs.done"),
		EngineBin:     getenv("ODM_BIN", "odm"),
		Preview:       getenvBool("ODM_PREVIEW", true),
	}

	timeoutMin := getenv("ODM_JOB_TIMEOUT_MINUTES", "0")
	minutes, err := strconv.Atoi(timeoutMin)
	if err != nil || minutes < 0 {
		return config{}, fmt.Errorf("invalid ODM_JOB_TIMEOUT_MINUTES: %q", timeoutMin)
	}
	cfg.JobTimeout = time.Duration(minutes) * time.Minute

	if cfg.EngineBin == "" {
		return config{}, fmt.Errorf("ODM_BIN must not be empty")
	}
	return cfg, nil
}

func loadSimpleContentConfig() (*simpleconfig.ServerConfig, error) {
	opts := []simpleconfig.Option{
		simpleconfig.WithDatabase(getenv("DATABASE_TYPE", "postgres"), getenv("DATABASE_URL", "")),
		simpleconfig.WithDatabaseSchema(getenv("DATABASE_SCHEMA", "content")),
		simpleconfig.WithDefaultStorage(getenv("DEFAULT_STORAGE_BACKEND", "s3")),
	}

	switch getenv("DEFAULT_STORAGE_BACKEND", "s3") {
	case "s3":
		opts = append(opts, simpleconfig.WithS3StorageFull(
			"s3",
			getenv("AWS_S3_BUCKET", "drone-products"),
			getenv("AWS_S3_REGION", "us-east-1"),
			getenv("AWS_ACCESS_KEY_ID", ""),
			getenv("AWS_SECRET_ACCESS_KEY", ""),
			getenv("AWS_S3_ENDPOINT", ""),
			getenvBool("AWS_S3_USE_SSL", false),
			getenvBool("AWS_S3_USE_PATH_STYLE", true),
		))
	case "memory":
		opts = append(opts, simpleconfig.WithMemoryStorage("memory"))
	}

	opts = append(opts,
		simpleconfig.WithEventLogging(false),
		simpleconfig.WithStorageDelegatedURLs(),
	)

	return simpleconfig.Load(opts...)
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("worker starting", "nats_url", cfg.NATSURL, "job_subject", cfg.JobSubject, "queue", cfg.WorkerQueue, "result_subject", cfg.ResultSubject, "engine", cfg.EngineBin)

	contentCfg, err := loadSimpleContentConfig()
	if err != nil {
		fatal(logger, "load simplecontent config", err)
	}
	contentSvc, err := contentCfg.BuildService()
	if err != nil {
		fatal(logger, "build simplecontent service", err)
	}
	logger.Info("simplecontent service ready", "backend", contentCfg.DefaultStorageBackend)

	uploader := upload.NewClient(contentSvc, contentCfg.DefaultStorageBackend)

	nc, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
	defer nc.Close()

	_, err = nc.QueueSubscribeJSON(cfg.JobSubject, cfg.WorkerQueue, func(jobCtx context.Context, data []byte) {
		var evt schema.JobRequested
		if err := json.Unmarshal(data, &evt); err != nil {
			logger.Error("discarding undecodable job event", "err", err)
			return
		}
		handleJob(jobCtx, evt, cfg, uploader, nc, logger)
	})
	if err != nil {
		fatal(logger, "subscribe worker", err, "job_subject", cfg.JobSubject, "queue", cfg.WorkerQueue)
	}
	logger.Info("listening for jobs", "subject", cfg.JobSubject, "queue", cfg.WorkerQueue)

	select {}
}

func handleJob(ctx context.Context, evt schema.JobRequested, cfg config, uploader *upload.Client, nc *bus.Client, logger *slog.Logger) {
	if evt.JobID == "" {
		evt.JobID = uuid.NewString()
	}
	jobLogger := logger.With("job_id", evt.JobID)
	jobLogger.Info("received job", "working_dir", evt.WorkingDir, "image_dir", evt.ImageDir)

	state := &ProcessingState{
		JobID:           evt.JobID,
		ParentContentID: evt.ParentContentID,
		StartTime:       time.Now(),
		Lifecycle:       make([]schema.JobLifecycleEvent, 0),
	}

	if cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.JobTimeout)
		defer cancel()
	}

	adapter := odm.NewAdapter(cfg.EngineBin, jobLogger)
	req := odm.JobRequest{
		WorkingDir:   evt.WorkingDir,
		MetadataPath: evt.MetadataPath,
		ImageDir:     evt.ImageDir,
		GCPPath:      evt.GCPPath,
	}

	inv, err := adapter.Prepare(req)
	if err != nil {
		jobLogger.Error("input validation failed", "err", err)
		state.AddLifecycleEvent(schema.StageFailed, err, classifyError(err))
		publishLifecycleEvent(nc, cfg.ResultSubject, state.Lifecycle[len(state.Lifecycle)-1])
		publishDone(nc, cfg.ResultSubject, evt, odm.StatusFailure, -1, nil, "", err, state)
		return
	}
	state.AddLifecycleEvent(schema.StageValidation, nil, "")
	publishLifecycleEvent(nc, cfg.ResultSubject, state.Lifecycle[len(state.Lifecycle)-1])

	state.AddLifecycleEvent(schema.StageProcessing, nil, "")
	publishLifecycleEvent(nc, cfg.ResultSubject, state.Lifecycle[len(state.Lifecycle)-1])

	res := adapter.Execute(ctx, inv)
	if res.Status != odm.StatusSuccess {
		jobLogger.Error("engine run failed", "exit_code", res.ExitCode, "err", res.Err)
		writeFailureManifest(evt.JobID, evt.WorkingDir, res, inv.Metadata, jobLogger)
		state.AddLifecycleEvent(schema.StageFailed, res.Err, classifyError(res.Err))
		publishLifecycleEvent(nc, cfg.ResultSubject, state.Lifecycle[len(state.Lifecycle)-1])
		publishDone(nc, cfg.ResultSubject, evt, odm.StatusFailure, res.ExitCode, nil, "", res.Err, state)
		return
	}

	desc, err := odm.Collect(evt.WorkingDir, res)
	if err != nil {
		jobLogger.Error("output verification failed", "err", err)
		writeFailureManifest(evt.JobID, evt.WorkingDir, odm.Result{Status: odm.StatusFailure, ExitCode: res.ExitCode, Err: err}, inv.Metadata, jobLogger)
		state.AddLifecycleEvent(schema.StageFailed, err, classifyError(err))
		publishLifecycleEvent(nc, cfg.ResultSubject, state.Lifecycle[len(state.Lifecycle)-1])
		publishDone(nc, cfg.ResultSubject, evt, odm.StatusFailure, res.ExitCode, nil, "", err, state)
		return
	}
	state.AddLifecycleEvent(schema.StageCollect, nil, "")
	publishLifecycleEvent(nc, cfg.ResultSubject, state.Lifecycle[len(state.Lifecycle)-1])

	if cfg.Preview {
		renderPreview(evt.WorkingDir, desc, jobLogger)
	}

	manifestPath, err := manifest.Write(evt.WorkingDir, manifest.New(evt.JobID, desc, inv.Metadata))
	if err != nil {
		jobLogger.Error("manifest write failed", "err", err)
		state.AddLifecycleEvent(schema.StageFailed, err, classifyError(err))
		publishLifecycleEvent(nc, cfg.ResultSubject, state.Lifecycle[len(state.Lifecycle)-1])
		publishDone(nc, cfg.ResultSubject, evt, odm.StatusFailure, res.ExitCode, nil, "", err, state)
		return
	}

	state.AddLifecycleEvent(schema.StageUpload, nil, "")
	publishLifecycleEvent(nc, cfg.ResultSubject, state.Lifecycle[len(state.Lifecycle)-1])
	results := uploadArtifacts(ctx, evt, desc, manifestPath, uploader, jobLogger)

	state.AddLifecycleEvent(schema.StageCompleted, nil, "")
	publishDone(nc, cfg.ResultSubject, evt, odm.StatusSuccess, 0, results, manifestPath, nil, state)
	jobLogger.Info("completed job", "products", len(desc.Products), "processing_time_ms", state.GetProcessingDuration())
}

// ProcessingState accumulates the stage history of one job so the terminal
// event can replay the full lifecycle to consumers that missed the
// intermediate publishes.
type ProcessingState struct {
	JobID           string
	ParentContentID string
	StartTime       time.Time
	Lifecycle       []schema.JobLifecycleEvent
}

func (ps *ProcessingState) AddLifecycleEvent(stage schema.ProcessingStage, err error, failureType schema.FailureType) {
	event := schema.JobLifecycleEvent{
		JobID:           ps.JobID,
		ParentContentID: ps.ParentContentID,
		Stage:           stage,
		HappenedAt:      time.Now().Unix(),
	}

	if stage == schema.StageProcessing {
		event.ProcessingStart = ps.StartTime.UnixMilli()
	} else if stage == schema.StageCompleted || stage == schema.StageFailed {
		event.ProcessingStart = ps.StartTime.UnixMilli()
		event.ProcessingEnd = time.Now().UnixMilli()
	}

	if err != nil {
		event.Error = err.Error()
		event.FailureType = failureType
	}

	ps.Lifecycle = append(ps.Lifecycle, event)
}

func (ps *ProcessingState) GetProcessingDuration() int64 {
	if ps.StartTime.IsZero() {
		return 0
	}
	return time.Since(ps.StartTime).Milliseconds()
}

func publishLifecycleEvent(nc *bus.Client, subject string, event schema.JobLifecycleEvent) {
	if err := nc.PublishJSON(subject+".lifecycle", event); err != nil {
		slog.Error("publish lifecycle event failed", "subject", subject, "stage", event.Stage, "err", err)
	}
}

// uploadArtifacts pushes each verified product (and the manifest) to content
// storage as derived content of the source capture. Upload failures degrade
// the product's reported status but do not fail the job: the artifacts are
// on disk and the manifest records them.
func uploadArtifacts(ctx context.Context, evt schema.JobRequested, desc *odm.Descriptor, manifestPath string, uploader *upload.Client, logger *slog.Logger) []schema.ProductResult {
	results := make([]schema.ProductResult, 0, len(desc.Products))

	var parent *simplecontent.Content
	if evt.ParentContentID != "" {
		parentID, err := uuid.Parse(evt.ParentContentID)
		if err != nil {
			logger.Warn("invalid parent content id, skipping uploads", "parent_content_id", evt.ParentContentID, "err", err)
		} else if parent, err = uploader.GetParent(ctx, parentID); err != nil {
			logger.Warn("fetch parent content failed, skipping uploads", "err", err)
			parent = nil
		}
	}

	for _, p := range desc.Products {
		result := schema.ProductResult{
			Name:   p.Name,
			Path:   p.Path,
			Kind:   p.Kind,
			Size:   p.Size,
			Status: "stored",
		}
		if parent != nil {
			uploaded, err := uploader.UploadArtifact(ctx, parent, filepath.Join(evt.WorkingDir, p.Path), upload.UploadOptions{
				Product: p.Name,
				Kind:    p.Kind,
			})
			if err != nil {
				logger.Error("artifact upload failed", "product", p.Name, "err", err)
				result.Status = "upload_failed"
			} else {
				result.ContentID = uploaded.Content.ID.String()
				result.Status = "uploaded"
			}
		}
		results = append(results, result)
	}

	if parent != nil {
		if _, err := uploader.UploadArtifact(ctx, parent, manifestPath, upload.UploadOptions{
			Product: "manifest",
			Kind:    "manifest",
		}); err != nil {
			logger.Warn("manifest upload failed", "err", err)
		}
	}
	return results
}

func renderPreview(workspace string, desc *odm.Descriptor, logger *slog.Logger) {
	for _, p := range desc.Products {
		if p.Name != "orthomosaic" {
			continue
		}
		src := filepath.Join(workspace, p.Path)
		dst := img.PreviewPath(src)
		if _, _, err := img.RenderPreview(src, dst, img.PreviewSize, img.PreviewSize); err != nil {
			logger.Warn("preview render failed", "src", src, "err", err)
		}
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

func classifyError(err error) schema.FailureType {
	if err == nil {
		return ""
	}
	var invalidErr *odm.InvalidInputError
	if errors.As(err, &invalidErr) {
		return schema.FailureTypeValidation
	}
	var partialErr *odm.PartialResultError
	if errors.As(err, &partialErr) {
		return schema.FailureTypePermanent
	}
	// Engine failures and everything else are left to the orchestrator's
	// retry policy; this layer never re-runs the engine itself.
	return schema.FailureTypeRetryable
}

func publishDone(nc *bus.Client, subject string, evt schema.JobRequested, status odm.Status, exitCode int, results []schema.ProductResult, manifestPath string, cause error, state *ProcessingState) {
	done := schema.JobDone{
		JobID:            evt.JobID,
		ParentContentID:  evt.ParentContentID,
		Status:           string(status),
		ExitCode:         exitCode,
		Products:         results,
		ManifestPath:     manifestPath,
		Lifecycle:        state.Lifecycle,
		ProcessingTimeMs: state.GetProcessingDuration(),
		HappenedAt:       time.Now().Unix(),
	}
	if cause != nil {
		done.Error = cause.Error()
		done.FailureType = classifyError(cause)
	}
	if err := nc.PublishJSON(subject, done); err != nil {
		slog.Error("publish result failed", "subject", subject, "job_id", evt.JobID, "err", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	return val == "true"
}
