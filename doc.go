// Package dataprep prepares tabular datasets for analytics by applying a
// list of declarative rules and persisting the result as a snapshot.
//
// # Overview
//
// A job names a dataset, the upstream datasets it derives from and the
// rules to apply to each of them:
//
//	header   rownum: 1
//	rename   col: _c0 to: city
//	replace  col: Population, Total_Crime on: '_' with: '' global: true
//	settype  col: Population type: long
//	keep     row: city = 'LA' && Population > 1000000
//
// The rules run in order on an in-memory columnar dataset, partitioned
// across the cores the job asked for, within a row cap and a wall-clock
// timeout. The result is written once, atomically, to a local directory,
// S3 or GCS, and the caller is told about the outcome through an HTTP
// callback.
//
// # Architecture
//
//   - pkg/rule: the rule grammar, parsed into a closed set of rule types
//   - pkg/dataset: copy-on-write columns with lineage
//   - internal/plan: the dataset dependency graph in topological order
//   - internal/engine: the execution engine and its partitioned sessions
//   - internal/governor: row, parallelism and timeout limits
//   - pkg/snapshot: formats, stores and the snapshot catalog
//   - pkg/callback: the outcome report
//   - internal/job: one job end to end
//
// # Usage
//
//	dataprep run --job job.yaml
//	dataprep parse "keep row: Location = 'LA'"
package dataprep
