// Package core defines the shared language of the leapgrid result session engine.
//
// This package contains:
//   - Domain entities (Query, DataContainer, Entity, DataFilter, FetchRequest, HistoryState)
//   - Execution contracts (ExecutionSource, ExecutionContext, Cursor)
//   - Persistence actions and outcomes
//   - The error taxonomy shared by every component
//   - Configuration types (AdapterConfig, TargetConfig)
//
// The Golden Rule: pkg/core imports ONLY stdlib and leaf libraries.
// All other packages depend on core, not the reverse.
package core
