package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/dataprep/pkg/errors"
)

// PrepProperties bounds the resources a job may use.
type PrepProperties struct {
	// LimitRows caps the source rows read before any rule runs (0 = unlimited)
	LimitRows int64 `json:"polaris.dataprep.etl.limitRows" yaml:"polaris.dataprep.etl.limitRows"`
	// Cores requests that many parallel execution units (0 = engine default)
	Cores int `json:"polaris.dataprep.etl.cores" yaml:"polaris.dataprep.etl.cores"`
	// TimeoutSeconds bounds the whole plan execution
	TimeoutSeconds int `json:"polaris.dataprep.etl.timeout" yaml:"polaris.dataprep.etl.timeout"`
}

// Timeout returns TimeoutSeconds as a duration.
func (p PrepProperties) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Validate checks the resource bounds.
func (p PrepProperties) Validate() error {
	if p.LimitRows < 0 {
		return errors.New(errors.ErrorTypeConfig, "polaris.dataprep.etl.limitRows cannot be negative")
	}
	if p.Cores < 0 {
		return errors.New(errors.ErrorTypeConfig, "polaris.dataprep.etl.cores cannot be negative")
	}
	if p.TimeoutSeconds <= 0 {
		return errors.New(errors.ErrorTypeConfig, "polaris.dataprep.etl.timeout must be positive")
	}
	return nil
}

// ImportType says where a dataset's rows come from.
type ImportType string

const (
	// ImportTypeFile reads a delimited file
	ImportTypeFile ImportType = "FILE"
	// ImportTypeDB runs a query against a relational database
	ImportTypeDB ImportType = "DB"
	// ImportTypeDataset consumes upstream datasets or a previously written snapshot
	ImportTypeDataset ImportType = "DATASET"
)

// DatasetInfo describes one dataset of a job and, through
// UpstreamDatasetInfos, the datasets it is derived from.
type DatasetInfo struct {
	ImportType           ImportType    `json:"importType" yaml:"importType"`
	Delimiter            string        `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	FilePath             string        `json:"filePath,omitempty" yaml:"filePath,omitempty"`
	UpstreamDatasetInfos []DatasetInfo `json:"upstreamDatasetInfos,omitempty" yaml:"upstreamDatasetInfos,omitempty"`
	OrigTeddyDsID        string        `json:"origTeddyDsId" yaml:"origTeddyDsId"`
	RuleStrings          []string      `json:"ruleStrings,omitempty" yaml:"ruleStrings,omitempty"`

	// DB import
	DBType      string `json:"dbType,omitempty" yaml:"dbType,omitempty"`
	ConnectURI  string `json:"connectUri,omitempty" yaml:"connectUri,omitempty"`
	SourceQuery string `json:"sourceQuery,omitempty" yaml:"sourceQuery,omitempty"`
}

// DelimiterRune returns the field separator, defaulting to a comma.
func (d DatasetInfo) DelimiterRune() rune {
	if d.Delimiter == "" {
		return ','
	}
	if d.Delimiter == `\t` {
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(d.Delimiter)
	return r
}

// IsReference reports whether d only names another dataset by ID.
func (d DatasetInfo) IsReference() bool {
	return d.ImportType == ImportTypeDataset && len(d.UpstreamDatasetInfos) == 0 && len(d.RuleStrings) == 0
}

// Normalize upper-cases enumerations and fills defaults, recursively.
func (d *DatasetInfo) Normalize() {
	d.ImportType = ImportType(strings.ToUpper(strings.TrimSpace(string(d.ImportType))))
	if d.ImportType == "" {
		if d.FilePath != "" {
			d.ImportType = ImportTypeFile
		} else {
			d.ImportType = ImportTypeDataset
		}
	}
	d.DBType = strings.ToLower(strings.TrimSpace(d.DBType))
	for i := range d.UpstreamDatasetInfos {
		d.UpstreamDatasetInfos[i].Normalize()
	}
}

// Validate checks the fields of d and its upstreams. Graph level problems
// such as cycles are reported by the plan builder.
func (d DatasetInfo) Validate() error {
	if d.OrigTeddyDsID == "" {
		return errors.New(errors.ErrorTypeConfig, "origTeddyDsId is required")
	}
	if d.Delimiter != "" && d.Delimiter != `\t` && utf8.RuneCountInString(d.Delimiter) != 1 {
		return errors.Newf(errors.ErrorTypeConfig, "dataset %s: delimiter must be a single character, got %q", d.OrigTeddyDsID, d.Delimiter)
	}

	switch d.ImportType {
	case ImportTypeFile:
		if d.FilePath == "" {
			return errors.Newf(errors.ErrorTypeConfig, "dataset %s: filePath is required for importType FILE", d.OrigTeddyDsID)
		}
	case ImportTypeDB:
		if d.DBType != "postgresql" && d.DBType != "mysql" {
			return errors.Newf(errors.ErrorTypeConfig, "dataset %s: unsupported dbType %q", d.OrigTeddyDsID, d.DBType)
		}
		if d.ConnectURI == "" || d.SourceQuery == "" {
			return errors.Newf(errors.ErrorTypeConfig, "dataset %s: connectUri and sourceQuery are required for importType DB", d.OrigTeddyDsID)
		}
	case ImportTypeDataset:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "dataset %s: unsupported importType %q", d.OrigTeddyDsID, d.ImportType)
	}

	for _, up := range d.UpstreamDatasetInfos {
		if err := up.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot store types
const (
	StoreLocal = "LOCAL"
	StoreHDFS  = "HDFS"
	StoreS3    = "S3"
	StoreGCS   = "GCS"
)

// SnapshotInfo says where and how the result is persisted.
type SnapshotInfo struct {
	StagingBaseDir string `json:"stagingBaseDir" yaml:"stagingBaseDir"`
	SsType         string `json:"ssType" yaml:"ssType"`
	Engine         string `json:"engine" yaml:"engine"`
	Format         string `json:"format" yaml:"format"`
	Compression    string `json:"compression" yaml:"compression"`
	SsName         string `json:"ssName" yaml:"ssName"`
	SsID           string `json:"ssId" yaml:"ssId"`
}

// Normalize upper-cases enumerations and fills defaults.
func (s *SnapshotInfo) Normalize() {
	s.SsType = upperOr(s.SsType, StoreLocal)
	s.Engine = upperOr(s.Engine, "EMBEDDED")
	s.Format = upperOr(s.Format, "CSV")
	s.Compression = upperOr(s.Compression, "NONE")
}

// Validate checks the required fields. Format and compression support is
// decided by the snapshot writer.
func (s SnapshotInfo) Validate() error {
	if s.StagingBaseDir == "" {
		return errors.New(errors.ErrorTypeConfig, "stagingBaseDir is required")
	}
	if s.SsName == "" {
		return errors.New(errors.ErrorTypeConfig, "ssName is required")
	}
	if strings.ContainsAny(s.SsName, `/\`) || s.SsName == "." || s.SsName == ".." {
		return errors.Newf(errors.ErrorTypeConfig, "ssName %q must be a single path element", s.SsName)
	}
	switch s.SsType {
	case StoreLocal, StoreHDFS, StoreS3, StoreGCS:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unsupported ssType %q", s.SsType)
	}
	return nil
}

// CallbackInfo says where the job outcome is reported. Port 0 disables the callback.
type CallbackInfo struct {
	Port       int    `json:"port" yaml:"port"`
	OauthToken string `json:"oauthToken" yaml:"oauthToken"`
}

// Validate checks the port range.
func (c CallbackInfo) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Newf(errors.ErrorTypeConfig, "callback port %d out of range", c.Port)
	}
	return nil
}

// Payloads is the complete input of one job.
type Payloads struct {
	PrepProperties PrepProperties `json:"prepProperties" yaml:"prepProperties"`
	DatasetInfo    DatasetInfo    `json:"datasetInfo" yaml:"datasetInfo"`
	SnapshotInfo   SnapshotInfo   `json:"snapshotInfo" yaml:"snapshotInfo"`
	CallbackInfo   CallbackInfo   `json:"callbackInfo" yaml:"callbackInfo"`
}

// Normalize fills defaults in every payload.
func (p *Payloads) Normalize() {
	p.DatasetInfo.Normalize()
	p.SnapshotInfo.Normalize()
}

// Validate validates every payload.
func (p Payloads) Validate() error {
	if err := p.PrepProperties.Validate(); err != nil {
		return err
	}
	if err := p.DatasetInfo.Validate(); err != nil {
		return err
	}
	if err := p.SnapshotInfo.Validate(); err != nil {
		return err
	}
	return p.CallbackInfo.Validate()
}

// DecodePayloads decodes the four JSON payloads, normalizes and validates them.
func DecodePayloads(prepProperties, datasetInfo, snapshotInfo, callbackInfo []byte) (*Payloads, error) {
	var p Payloads
	parts := []struct {
		name string
		data []byte
		v    interface{}
	}{
		{"prepProperties", prepProperties, &p.PrepProperties},
		{"datasetInfo", datasetInfo, &p.DatasetInfo},
		{"snapshotInfo", snapshotInfo, &p.SnapshotInfo},
		{"callbackInfo", callbackInfo, &p.CallbackInfo},
	}
	for _, part := range parts {
		if err := json.Unmarshal(part.data, part.v); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to decode %s", part.name))
		}
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func upperOr(s, def string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	return s
}
