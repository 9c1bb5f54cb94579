// Package types defines the core data types shared by the ingestion path,
// the durable dataset and the analytics built on top of it.
//
// Key types:
//   - Channel: a recognized sensor channel (EDA, HR, BI, PG, force)
//   - Schema: the ordered channel columns of one container
//   - Reading: a single transient inbound value
//   - Row: one persisted, tagged record
package types
