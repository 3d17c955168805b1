// Package l2geometry owns Layer 2 (Geometry) of the tracking data model:
// box overlap, appearance distance, and the association cost matrix.
//
// Dependency rule: L2 may depend on L1, but never on L3 or above.
package l2geometry
