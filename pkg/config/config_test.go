package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dataprep/pkg/errors"
)

const (
	prepJSON     = `{"polaris.dataprep.etl.limitRows": 1000000, "polaris.dataprep.etl.cores": 0, "polaris.dataprep.etl.timeout": 86400}`
	datasetJSON  = `{"importType": "FILE", "delimiter": ",", "filePath": "/tmp/crime.csv", "upstreamDatasetInfos": [], "origTeddyDsId": "crime", "ruleStrings": ["header rownum: 1", "rename col: _c0 to: new_colname"]}`
	snapshotJSON = `{"stagingBaseDir": "/tmp/dataprep", "ssType": "hdfs", "engine": "", "format": "csv", "compression": "none", "ssName": "crime_prepared", "ssId": "8f0b2a52-7a41-4f57-b0ad-2f8c0b1c5c53"}`
	callbackJSON = `{"port": 8180, "oauthToken": "bearer eyJhbGciOiJIUzI1NiJ9"}`
)

func TestDecodePayloads(t *testing.T) {
	p, err := DecodePayloads([]byte(prepJSON), []byte(datasetJSON), []byte(snapshotJSON), []byte(callbackJSON))
	require.NoError(t, err)

	assert.Equal(t, int64(1000000), p.PrepProperties.LimitRows)
	assert.Equal(t, 0, p.PrepProperties.Cores)
	assert.Equal(t, 24*time.Hour, p.PrepProperties.Timeout())

	assert.Equal(t, ImportTypeFile, p.DatasetInfo.ImportType)
	assert.Equal(t, ',', p.DatasetInfo.DelimiterRune())
	assert.Equal(t, []string{"header rownum: 1", "rename col: _c0 to: new_colname"}, p.DatasetInfo.RuleStrings)

	assert.Equal(t, StoreHDFS, p.SnapshotInfo.SsType)
	assert.Equal(t, "EMBEDDED", p.SnapshotInfo.Engine)
	assert.Equal(t, "CSV", p.SnapshotInfo.Format)
	assert.Equal(t, "NONE", p.SnapshotInfo.Compression)

	assert.Equal(t, 8180, p.CallbackInfo.Port)
	assert.Equal(t, "bearer eyJhbGciOiJIUzI1NiJ9", p.CallbackInfo.OauthToken)
}

func TestDecodePayloadsRejectsMalformedJSON(t *testing.T) {
	_, err := DecodePayloads([]byte(`{`), []byte(datasetJSON), []byte(snapshotJSON), []byte(callbackJSON))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Payloads)
	}{
		{"zero timeout", func(p *Payloads) { p.PrepProperties.TimeoutSeconds = 0 }},
		{"negative limit", func(p *Payloads) { p.PrepProperties.LimitRows = -1 }},
		{"negative cores", func(p *Payloads) { p.PrepProperties.Cores = -2 }},
		{"missing id", func(p *Payloads) { p.DatasetInfo.OrigTeddyDsID = "" }},
		{"file without path", func(p *Payloads) { p.DatasetInfo.FilePath = "" }},
		{"long delimiter", func(p *Payloads) { p.DatasetInfo.Delimiter = ";;" }},
		{"unknown import type", func(p *Payloads) { p.DatasetInfo.ImportType = "KAFKA" }},
		{"db without query", func(p *Payloads) {
			p.DatasetInfo.ImportType = ImportTypeDB
			p.DatasetInfo.DBType = "postgresql"
			p.DatasetInfo.ConnectURI = "postgres://localhost/db"
		}},
		{"bad upstream", func(p *Payloads) {
			p.DatasetInfo.ImportType = ImportTypeDataset
			p.DatasetInfo.UpstreamDatasetInfos = []DatasetInfo{{ImportType: ImportTypeFile, OrigTeddyDsID: "up"}}
		}},
		{"missing staging dir", func(p *Payloads) { p.SnapshotInfo.StagingBaseDir = "" }},
		{"nested snapshot name", func(p *Payloads) { p.SnapshotInfo.SsName = "a/b" }},
		{"unknown store", func(p *Payloads) { p.SnapshotInfo.SsType = "FTP" }},
		{"bad port", func(p *Payloads) { p.CallbackInfo.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePayloads([]byte(prepJSON), []byte(datasetJSON), []byte(snapshotJSON), []byte(callbackJSON))
			require.NoError(t, err)
			tt.mutate(p)
			err = p.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestNormalizeInfersImportType(t *testing.T) {
	d := DatasetInfo{
		OrigTeddyDsID: "child",
		UpstreamDatasetInfos: []DatasetInfo{
			{OrigTeddyDsID: "parent", FilePath: "/tmp/a.csv"},
			{OrigTeddyDsID: "other", ImportType: "dataset"},
		},
	}
	d.Normalize()
	assert.Equal(t, ImportTypeDataset, d.ImportType)
	assert.Equal(t, ImportTypeFile, d.UpstreamDatasetInfos[0].ImportType)
	assert.Equal(t, ImportTypeDataset, d.UpstreamDatasetInfos[1].ImportType)
	assert.True(t, d.UpstreamDatasetInfos[1].IsReference())
	assert.False(t, d.IsReference())
}

func TestDelimiterRune(t *testing.T) {
	assert.Equal(t, ',', DatasetInfo{}.DelimiterRune())
	assert.Equal(t, '|', DatasetInfo{Delimiter: "|"}.DelimiterRune())
	assert.Equal(t, '\t', DatasetInfo{Delimiter: `\t`}.DelimiterRune())
	assert.Equal(t, '\t', DatasetInfo{Delimiter: "\t"}.DelimiterRune())
}

func TestLoadBundle(t *testing.T) {
	t.Setenv("DATAPREP_TEST_TOKEN", "secret")
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	bundle := `
prepProperties:
  polaris.dataprep.etl.limitRows: 50
  polaris.dataprep.etl.cores: 2
  polaris.dataprep.etl.timeout: 60
datasetInfo:
  importType: DATASET
  origTeddyDsId: joined
  ruleStrings:
    - "keep row: Location = 'LA'"
  upstreamDatasetInfos:
    - importType: FILE
      filePath: /data/crime.csv
      delimiter: ";"
      origTeddyDsId: crime
snapshotInfo:
  stagingBaseDir: /tmp/out
  ssName: crime_la
callbackInfo:
  port: 0
  oauthToken: ${DATAPREP_TEST_TOKEN}
`
	require.NoError(t, os.WriteFile(path, []byte(bundle), 0o600))

	p, err := LoadBundle(path)
	require.NoError(t, err)
	assert.Equal(t, int64(50), p.PrepProperties.LimitRows)
	assert.Equal(t, 2, p.PrepProperties.Cores)
	require.Len(t, p.DatasetInfo.UpstreamDatasetInfos, 1)
	assert.Equal(t, ';', p.DatasetInfo.UpstreamDatasetInfos[0].DelimiterRune())
	assert.Equal(t, StoreLocal, p.SnapshotInfo.SsType)
	assert.Equal(t, "secret", p.CallbackInfo.OauthToken)
}

func TestLoadBundleMissingFile(t *testing.T) {
	_, err := LoadBundle(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettingsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataprep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
engine:
  coercion_failure_limit: 10
callback:
  host: prep.internal
  initial_delay: 1s
  oauth:
    token_url: https://auth.internal/token
    client_id: dataprep
    scopes: [callbacks]
`), 0o600))
	t.Setenv("DATAPREP_CALLBACK_MAX_ATTEMPTS", "5")
	t.Setenv("DATAPREP_CALLBACK_OAUTH_REFRESH_TOKEN", "refresh-me")

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, 10, s.Engine.CoercionFailureLimit)
	assert.Equal(t, "prep.internal", s.Callback.Host)
	assert.Equal(t, time.Second, s.Callback.InitialDelay)
	assert.Equal(t, 5, s.Callback.MaxAttempts)
	assert.Equal(t, "/api/preparationsnapshots/{snapshotId}", s.Callback.Path)
	assert.Equal(t, "https://auth.internal/token", s.Callback.OAuth.TokenURL)
	assert.Equal(t, "dataprep", s.Callback.OAuth.ClientID)
	assert.Equal(t, "refresh-me", s.Callback.OAuth.RefreshToken)
	assert.Equal(t, []string{"callbacks"}, s.Callback.OAuth.Scopes)
	assert.True(t, s.Callback.OAuth.Enabled())
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	s.Callback.Scheme = "ftp"
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.Callback.MaxAttempts = 0
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.Engine.CoercionFailureLimit = -1
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.Callback.OAuth.TokenURL = "https://auth.internal/token"
	assert.Error(t, s.Validate())
	s.Callback.OAuth.RefreshToken = "r"
	assert.NoError(t, s.Validate())
}
