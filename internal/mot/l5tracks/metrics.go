package l5tracks

// Metrics summarises lifecycle quality over the life of a Manager.
type Metrics struct {
	Live            int   `json:"live"`
	Tentative       int   `json:"tentative"`
	Confirmed       int   `json:"confirmed"`
	Lost            int   `json:"lost"`
	TracksCreated   int64 `json:"tracks_created"`
	TracksConfirmed int64 `json:"tracks_confirmed"`
	TracksRemoved   int64 `json:"tracks_removed"`
	NumericFaults   int64 `json:"numeric_faults"`

	// Track fragmentation: fraction of created tracks that never confirmed [0, 1]
	FragmentationRatio float64 `json:"fragmentation_ratio"`
	// EmptyBoxRatio is the fraction of confirmed-or-lost track-frames where
	// the track had no matching detection [0, 1].
	EmptyBoxRatio float64 `json:"empty_box_ratio"`
}

// Metrics returns lifecycle counters and ratios.
func (m *Manager) Metrics() Metrics {
	out := Metrics{
		TracksCreated:   m.created,
		TracksConfirmed: m.confirmed,
		TracksRemoved:   m.removed,
		NumericFaults:   m.faults,
	}
	for i := range m.tracks {
		switch m.tracks[i].State {
		case Tentative:
			out.Tentative++
		case Confirmed:
			out.Confirmed++
		case Lost:
			out.Lost++
		}
	}
	out.Live = out.Tentative + out.Confirmed + out.Lost
	if m.created > 0 {
		out.FragmentationRatio = 1 - float64(m.confirmed)/float64(m.created)
	}
	if m.boxFrames > 0 {
		out.EmptyBoxRatio = float64(m.emptyBoxFrames) / float64(m.boxFrames)
	}
	return out
}
