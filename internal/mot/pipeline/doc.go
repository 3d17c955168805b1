// Package pipeline provides orchestration for the multi-object tracker.
//
// It wires together L1-L5 (validation, cost, motion, assignment and
// lifecycle) into the per-frame update, and drives detection sources into
// downstream sinks (JSON Lines, persistence, kinematics, live monitor) for
// one or many independent streams. The pipeline does not own domain
// logic; it delegates to the layer packages.
package pipeline
