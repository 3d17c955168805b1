// Package l4assign owns Layer 4 (Assignment): optimal one-to-one matching
// of tracks to detections over a cost matrix, with gating.
//
// Dependency rule: L4 depends only on the standard library; callers supply
// plain cost matrices.
package l4assign
