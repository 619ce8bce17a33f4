// internal/upload/client.go
package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"
)

// Client stores produced photogrammetry artifacts through the simple-content
// domain service as derived content of the source capture.
type Client struct {
	svc     simplecontent.Service
	backend string
}

// NewClient wraps a simple-content service with the configured default
// storage backend.
func NewClient(svc simplecontent.Service, defaultBackend string) *Client {
	return &Client{svc: svc, backend: defaultBackend}
}

// UploadOptions customises artifact persistence.
type UploadOptions struct {
	FileName string
	MimeType string // empty = auto-detect from the artifact file
	Product  string // logical product name, used as the derivation variant
	Kind     string
}

// UploadResult captures information about a stored artifact.
type UploadResult struct {
	Content *simplecontent.Content
}

// UploadArtifact uploads one produced file as derived content of the parent
// capture. The variant is the logical product name so consumers can address
// artifacts by product rather than by filename.
func (c *Client) UploadArtifact(ctx context.Context, parent *simplecontent.Content, path string, opts UploadOptions) (*UploadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	fileName := opts.FileName
	if fileName == "" {
		fileName = filepath.Base(path)
	}

	mimeType := opts.MimeType
	if mimeType == "" {
		mt, err := detectMime(path)
		if err != nil {
			return nil, err
		}
		mimeType = mt
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	metadata := map[string]interface{}{
		"product":   opts.Product,
		"kind":      opts.Kind,
		"mime_type": mimeType,
	}

	derived, err := c.svc.UploadDerivedContent(ctx, simplecontent.UploadDerivedContentRequest{
		ParentID:           parent.ID,
		OwnerID:            parent.OwnerID,
		TenantID:           parent.TenantID,
		DerivationType:     "photogrammetry",
		Variant:            opts.Product,
		StorageBackendName: c.backend,
		Reader:             file,
		FileName:           fileName,
		FileSize:           info.Size(),
		Tags:               []string{"photogrammetry", opts.Kind},
		Metadata:           metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("upload derived content: %w", err)
	}

	return &UploadResult{Content: derived}, nil
}

// GetParent fetches the source capture's content record.
func (c *Client) GetParent(ctx context.Context, contentID uuid.UUID) (*simplecontent.Content, error) {
	return c.svc.GetContent(ctx, contentID)
}

func detectMime(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for mime detect: %w", err)
	}
	defer file.Close()

	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read for mime detect: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}
