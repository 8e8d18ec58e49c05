// Package storage persists the scheduled-action queue and its satellite
// collections (actor settings, profiles, recorded outcomes, activity log).
//
// Everything goes through the Store interface so the dispatcher and handlers
// never touch a database handle directly.
package storage
