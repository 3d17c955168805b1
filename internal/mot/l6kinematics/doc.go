// Package l6kinematics derives physical quantities from confirmed tracks:
// pitch coordinates through a perspective transform, per-track speed in
// km/h and cumulative distance in metres.
//
// The Estimator is a pipeline sink. It only reads snapshots and never
// feeds back into association.
package l6kinematics
