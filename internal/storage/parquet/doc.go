// Package parquet implements Parquet snapshots of recorded sessions.
//
// The package provides:
//   - ReadingWriter/ReadingReader for the long-format row snapshot
//     (one record per channel value, queried by DuckDB)
//   - SummaryWriter/SummaryReader for per-partition statistics
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
package parquet
