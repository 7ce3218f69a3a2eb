// Package store selects the persistence backend of the gateway.
//
// Two drivers exist: "memory" keeps everything in process and is lost on
// restart, "sqlite" persists to a single database file through
// store/sqlite. Both satisfy core.Store.
package store
