package entities

import (
	"time"
)

// TimeSlot is a bookable interval owned by one specialist
type TimeSlot struct {
	ID           string    `json:"id" db:"id"`
	SpecialistID string    `json:"specialist_id" db:"specialist_id"`
	StartAt      time.Time `json:"start_at" db:"start_at"`
	EndAt        time.Time `json:"end_at" db:"end_at"`
	IsBooked     bool      `json:"is_booked" db:"is_booked"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Overlaps reports whether the slot intersects the half-open interval [start, end)
func (s *TimeSlot) Overlaps(start, end time.Time) bool {
	return s.StartAt.Before(end) && start.Before(s.EndAt)
}
