// internal/odm/errors.go
package odm

import "fmt"

// InvalidInputError reports a request that failed validation before the
// engine was started. It is never retried.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// ExternalProcessError reports a non-zero exit from the engine, with a tail
// of its captured output for diagnostics.
type ExternalProcessError struct {
	ExitCode int
	LogTail  string
}

func (e *ExternalProcessError) Error() string {
	if e.LogTail == "" {
		return fmt.Sprintf("engine exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("engine exited with code %d\nrecent output (tail):\n%s", e.ExitCode, e.LogTail)
}

// PartialResultError reports that the engine claimed success but a required
// product is missing or empty. A success exit alone does not satisfy the
// output contract.
type PartialResultError struct {
	Product string
	Path    string
}

func (e *PartialResultError) Error() string {
	return fmt.Sprintf("product %q missing or empty after successful run: %s", e.Product, e.Path)
}
