// internal/odm/discover.go
package odm

import (
	"os"
	"path/filepath"
)

// GCPFileName is the conventional ground-control-point filename the engine
// recognizes inside an image directory. Matching is exact and case-sensitive;
// near-misses (GCP_LIST.TXT, gcp-list.txt) are ignored, not errors.
const GCPFileName = "gcp_list.txt"

// GCPDiscovery maps a directory to an optional ground-control-point file.
// Injectable so tests can substitute a strategy without filesystem fixtures.
type GCPDiscovery func(dir string) (path string, found bool)

// DiscoverGCP is the default discovery strategy: a regular file named
// exactly GCPFileName directly inside dir.
func DiscoverGCP(dir string) (string, bool) {
	p := filepath.Join(dir, GCPFileName)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}
	return p, true
}
