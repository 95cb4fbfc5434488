package domain

import "time"

// NodeStats is one heartbeat sample of this relay process.
type NodeStats struct {
	PID           int32
	Sessions      int
	InFlight      int
	QueueCapacity int
	RSSBytes      uint64
	CPUPercent    float64
	SampledAt     time.Time
}
