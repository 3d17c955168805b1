// Package l1detections owns Layer 1 (Detections) of the tracking data
// model.
//
// Responsibilities: the bounding box and detection records produced by the
// upstream detector, ingestion validation, and the frame source boundary
// (JSON Lines reader).
//
// Dependency rule: L1 depends on nothing else in the tracking stack.
package l1detections
