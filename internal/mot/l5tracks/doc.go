// Package l5tracks owns Layer 5 (Tracks) of the tracking data model.
//
// Responsibilities: the track lifecycle state machine (tentative,
// confirmed, lost, removed), the track arena, numeric-fault recovery, track
// snapshots emitted downstream, and fragmentation metrics.
// Key types: Track, Snapshot, Manager, Policy.
//
// Dependency rule: L5 may depend on L1-L4, but never on L6.
// No SQL/database code is allowed in this package.
package l5tracks
