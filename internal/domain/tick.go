package domain

import "time"

// Tick is one scheduled firing.
type Tick struct {
	ID      string    `json:"id"`
	Seq     uint64    `json:"seq"`
	FiredAt time.Time `json:"fired_at"`
}
