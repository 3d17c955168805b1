// Package sqlite persists tracker output in SQLite.
//
// A Store holds runs: one run per tracked stream invocation, identified by
// a UUID. A Run is a pipeline sink that records every emitted snapshot as
// an observation and keeps a per-track summary current. Domain packages
// (L1-L6) never import this package.
package sqlite
