// Package core orchestrates supplier price-list ingestion and catalogue
// export. It is independent of the HTTP layer and can be driven by handlers,
// tools or tests.
//
// # Ingestion
//
// [Service.StartIngest] verifies the column mapping against the file's
// header, stores the file content-addressed, and starts a background run:
//
//  1. A slot is taken from the [RunLimiter]
//  2. An [ingest.Coordinator] walks the upload in fixed-size batches
//  3. Every [ingest.RunState] is broadcast to subscribers via
//     [Service.SubscribeProgress] and mirrored to Redis when configured
//  4. The run finishes Completed, Failed or Cancelled
//
// # Export
//
// [Service.Export] loads the template header, the supplier's items and the
// prices in force, then builds the CSV and appends end-of-life rows found
// against an optional reference snapshot.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code prefix for support reference:
//
//   - MAP: column mapping
//   - CSV: file parsing
//   - ING: batch ingestion
//   - UPL: uploads and runs
//   - EXP: export
//   - DB: database
package core
