// Package l3motion owns Layer 3 (Motion) of the tracking data model.
//
// Responsibilities: the constant-velocity Kalman filter over the
// (centre x, centre y, aspect, height) box parameterisation, covariance
// conditioning, and degenerate-box clamping.
//
// Dependency rule: L3 may depend on L1 and L2, but never on L4 or above.
package l3motion
