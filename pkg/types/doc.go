// Package types defines the value types, storage gateway contract, and
// standard errors shared by the pantry persistence core and its backends.
//
// The core (package pantry) never talks to a database directly. It consumes
// a StorageGateway, opens one Session per unit of work, and exchanges raw
// Rows with it. Rows are never identity-mapped; mapping them to live entity
// instances is the core's job.
package types
