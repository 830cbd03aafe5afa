// Package katana implements the Katana (.blz) archive engine: sharded,
// parallel creation and extraction with optional AES-256-GCM encryption and
// whole-archive integrity verification.
//
// The three public entry points are Create, Extract, and List. Each opens
// its own session and returns a tagged *Error rather than an opaque failure
// on any problem. Create and Extract also report progress through an
// optional ProgressEvent callback; List reports none.
package katana
