package snapshot

import (
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/dataprep/pkg/dataset"
)

// ManifestName is the object written last to a snapshot location. Its
// presence marks the snapshot complete.
const ManifestName = "_SUCCESS"

// Manifest describes a complete snapshot.
type Manifest struct {
	SnapshotID  string                 `json:"snapshotId"`
	Name        string                 `json:"name"`
	Location    string                 `json:"location"`
	Part        string                 `json:"part"`
	Format      Format                 `json:"format"`
	Compression string                 `json:"compression"`
	RowCount    int                    `json:"rowCount"`
	Columns     []dataset.ColumnSchema `json:"columns"`
	Bytes       int64                  `json:"bytes"`
	// Checksum is the hex XXH3-64 of the part as stored
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReadManifest reads the manifest of a local snapshot directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
