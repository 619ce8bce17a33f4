// internal/odm/invocation.go
package odm

// Invocation is the fully resolved engine call derived from a JobRequest by
// Prepare. It is derived deterministically and must not be mutated after it
// is built: one Invocation maps to exactly one engine execution.
type Invocation struct {
	// Engine is the engine binary to run.
	Engine string

	// Args is the normalized argument set handed to the engine.
	Args []string

	// Env holds extra environment entries (KEY=VALUE) appended to the
	// current environment, such as the settings override file.
	Env []string

	// Dir is the working space the engine runs in and writes to.
	Dir string

	// ImagesDir is the staged image folder inside the working space.
	ImagesDir string

	// GCPPath is the staged ground-control-point file, empty when none was
	// supplied or discovered.
	GCPPath string

	// Metadata is the parsed request metadata, recorded in the manifest so
	// downstream consumers can tie products back to the experiment. The
	// engine itself never sees it.
	Metadata map[string]any
}
