package l5tracks

// SetMotionMean overwrites element i of the filter mean of track id and
// reports whether the track exists. This is exported to allow test code in
// other packages to drive a track into a numeric fault without reaching
// into the unexported arena.
//
// NOTE: This function is intended for testing purposes only and should
// not be used in production code. Motion state is owned by the manager
// and only changes through PredictAll and Hit.
func (m *Manager) SetMotionMean(id uint64, i int, v float64) bool {
	slot, ok := m.index[id]
	if !ok || i < 0 || i >= len(m.tracks[slot].Motion.Mean) {
		return false
	}
	m.tracks[slot].Motion.Mean[i] = v
	return true
}
