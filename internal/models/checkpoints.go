package models

import "time"

// CheckpointOffset is one fixed offset from entry at which a multiplier is
// recorded.
type CheckpointOffset struct {
	Label  string
	Offset time.Duration
}

// CheckpointOffsets returns the tracked offsets in ascending order.
func CheckpointOffsets() []CheckpointOffset {
	return []CheckpointOffset{
		{"1h", time.Hour},
		{"4h", 4 * time.Hour},
		{"24h", 24 * time.Hour},
		{"3d", 3 * 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"30d", 30 * 24 * time.Hour},
	}
}

// Get returns the multiplier recorded for a checkpoint label.
func (m *CheckpointMultipliers) Get(label string) (float64, bool) {
	p := m.slot(label)
	if p == nil || *p == nil {
		return 0, false
	}
	return **p, true
}

// Set records the multiplier for a checkpoint label.
func (m *CheckpointMultipliers) Set(label string, v float64) {
	p := m.slot(label)
	if p == nil {
		return
	}
	val := v
	*p = &val
}

func (m *CheckpointMultipliers) slot(label string) **float64 {
	switch label {
	case "1h":
		return &m.H1
	case "4h":
		return &m.H4
	case "24h":
		return &m.H24
	case "3d":
		return &m.D3
	case "7d":
		return &m.D7
	case "30d":
		return &m.D30
	default:
		return nil
	}
}
