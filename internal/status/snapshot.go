package status

import (
	"time"

	"github.com/google/uuid"
)

// UnitRef names the unit of work currently in progress.
type UnitRef struct {
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// Snapshot is an immutable point-in-time copy of the active job's state, safe
// to hand to a concurrent reader. EtaSeconds is nil while no estimate exists
// (no units completed yet).
type Snapshot struct {
	JobID                 uuid.UUID `json:"jobId"`
	Operation             string    `json:"operation"`
	CurrentUnit           *UnitRef  `json:"currentUnit,omitempty"`
	TotalUnits            int       `json:"totalUnits"`
	CompletedUnits        int       `json:"completedUnits"`
	EtaSeconds            *float64  `json:"etaSeconds"`
	StartedAt             time.Time `json:"startedAt"`
	LastUpdatedAt         time.Time `json:"lastUpdatedAt"`
	Stats                 Stats     `json:"stats"`
	InterruptionRequested bool      `json:"interruptionRequested"`
}

// Fraction returns completed/total in [0,1], or 0 while the total is unknown.
func (s Snapshot) Fraction() float64 {
	if s.TotalUnits <= 0 {
		return 0
	}
	f := float64(s.CompletedUnits) / float64(s.TotalUnits)
	if f > 1 {
		f = 1
	}
	return f
}
