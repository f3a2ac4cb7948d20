// Package core defines the domain model shared by the detection engine, the
// case store and the transport layers.
//
// # Types
//
//   - ProcessEvent: a raw, immutable process-execution observation
//   - Alert: a detection result tied back to its originating event
//   - CaseNote and Artifact: append-only analyst records
//
// # Errors
//
// Every failure surfaced to callers is one of ValidationError, NotFoundError
// or PersistenceError. Each matches its sentinel (ErrValidation, ErrNotFound,
// ErrPersistence) through errors.Is, so transports can map them to status
// codes without type switches.
package core
