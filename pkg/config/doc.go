// Package config holds the job payloads and process settings of dataprep.
//
// A job is described by four independent payloads, each decoded from JSON:
//
//   - PrepProperties: row limit, requested cores and timeout
//   - DatasetInfo: the dataset to prepare, its upstream datasets and its rules
//   - SnapshotInfo: where and how to persist the result
//   - CallbackInfo: where to report the outcome
//
// The payloads may also be grouped in a YAML or JSON job bundle loaded with
// LoadBundle. Bundles support ${VAR_NAME} environment substitution:
//
//	prepProperties:
//	  polaris.dataprep.etl.limitRows: 1000000
//	  polaris.dataprep.etl.timeout: 86400
//	datasetInfo:
//	  importType: FILE
//	  filePath: ${DATA_DIR}/crime.csv
//	  origTeddyDsId: crime
//	  ruleStrings:
//	    - "header rownum: 1"
//	snapshotInfo:
//	  stagingBaseDir: /tmp/snapshots
//	  ssName: crime_prepared
//	callbackInfo:
//	  port: 8180
//	  oauthToken: ${CALLBACK_TOKEN}
//
// Process wide settings (logging, callback endpoint, coercion policy,
// observability) come from Settings, loaded with LoadSettings from an
// optional config file and DATAPREP_* environment variables.
package config
