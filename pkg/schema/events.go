// pkg/schema/events.go
package schema

// JobRequested asks a worker to run one photogrammetry job.
type JobRequested struct {
	JobID           string `json:"job_id"`
	ParentContentID string `json:"parent_content_id,omitempty"`
	WorkingDir      string `json:"working_dir"`
	MetadataPath    string `json:"metadata_path"`
	ImageDir        string `json:"image_dir"`
	GCPPath         string `json:"gcp_path,omitempty"`
	HappenedAt      int64  `json:"happened_at"`
}

type ProcessingStage string

const (
	StageValidation ProcessingStage = "validation"
	StageProcessing ProcessingStage = "processing"
	StageCollect    ProcessingStage = "collect"
	StageUpload     ProcessingStage = "upload"
	StageCompleted  ProcessingStage = "completed"
	StageFailed     ProcessingStage = "failed"
)

// FailureType classifies a failure for consumers deciding what to do next.
// It is advisory only: the worker itself never retries an engine run.
type FailureType string

const (
	FailureTypeValidation FailureType = "validation"
	FailureTypePermanent  FailureType = "permanent"
	FailureTypeRetryable  FailureType = "retryable"
)

// JobLifecycleEvent reports one stage transition while a job is processed.
// Workers publish these as they happen and replay the full sequence on the
// terminal JobDone event.
type JobLifecycleEvent struct {
	JobID           string          `json:"job_id"`
	ParentContentID string          `json:"parent_content_id,omitempty"`
	Stage           ProcessingStage `json:"stage"`
	Error           string          `json:"error,omitempty"`
	FailureType     FailureType     `json:"failure_type,omitempty"`
	ProcessingStart int64           `json:"processing_start,omitempty"`
	ProcessingEnd   int64           `json:"processing_end,omitempty"`
	HappenedAt      int64           `json:"happened_at"`
}

// ProductResult is one verified output product reported on completion.
type ProductResult struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	Size      int64  `json:"size"`
	ContentID string `json:"content_id,omitempty"`
	Status    string `json:"status"`
}

// JobDone reports the terminal outcome of one job.
type JobDone struct {
	JobID            string              `json:"job_id"`
	ParentContentID  string              `json:"parent_content_id,omitempty"`
	Status           string              `json:"status"`
	ExitCode         int                 `json:"exit_code"`
	Products         []ProductResult     `json:"products,omitempty"`
	ManifestPath     string              `json:"manifest_path,omitempty"`
	Error            string              `json:"error,omitempty"`
	FailureType      FailureType         `json:"failure_type,omitempty"`
	Lifecycle        []JobLifecycleEvent `json:"lifecycle,omitempty"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	HappenedAt       int64               `json:"happened_at"`
}
