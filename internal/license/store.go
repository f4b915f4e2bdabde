package license

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ArtifactInfo describes one issued .lic file found on disk. Payload
// is nil when the file could not be decoded; Err then carries the
// reason.
type ArtifactInfo struct {
	Path    string
	ModTime time.Time
	Payload *Payload
	Err     error
}

// ListArtifacts enumerates the .lic files under dir, newest first.
// A missing directory yields an empty list: "no licenses issued yet"
// is not an error.
func ListArtifacts(dir string) ([]ArtifactInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []ArtifactInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lic") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info := ArtifactInfo{Path: path}
		if fi, err := entry.Info(); err == nil {
			info.ModTime = fi.ModTime()
		}
		if data, err := os.ReadFile(path); err != nil {
			info.Err = err
		} else if artifact, err := DecodeArtifact(data); err != nil {
			info.Err = err
		} else {
			payload := artifact.Payload
			info.Payload = &payload
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(a, b int) bool {
		return infos[a].ModTime.After(infos[b].ModTime)
	})
	return infos, nil
}
