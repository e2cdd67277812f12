// Package model defines the data structures shared by the crawl packages.
//
// This package contains the following main types:
//   - WorkItem: one queued URL awaiting pipeline processing
//   - FetchResult: the outcome of a rendered or static fetch
//   - PageRecord: the persisted crawl fact for one URL
//   - AnalysisResult: the output of the content analysis function
//   - StatsSnapshot and FinalStats: progress and end-of-session statistics
//   - SessionReport: the final report written by the CLI
//
// The models carry JSON tags because they are streamed to progress
// consumers and stored in the database as JSON columns.
package model
