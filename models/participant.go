package models

import (
	"time"
)

// Participant represents one entry in the attendance roster
type Participant struct {
	ID          string            `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Attributes  map[string]string `json:"attributes,omitempty" db:"attributes"` // Extended roster columns, carried through unchanged
	CheckedIn   bool              `json:"check_in" db:"checked_in"`
	CheckedInAt *time.Time        `json:"checked_in_at" db:"checked_in_at"` // Set iff CheckedIn
}

// TableName returns the table name for the Participant model
func (Participant) TableName() string {
	return "participants"
}

// NewParticipant creates a participant that has not checked in yet
func NewParticipant(id, name string, attributes map[string]string) *Participant {
	return &Participant{
		ID:         id,
		Name:       name,
		Attributes: attributes,
	}
}

// MarkCheckedIn records a check-in at the given instant
func (p *Participant) MarkCheckedIn(at time.Time) {
	p.CheckedIn = true
	p.CheckedInAt = &at
}

// ClearCheckIn returns the participant to the not checked in state
func (p *Participant) ClearCheckIn() {
	p.CheckedIn = false
	p.CheckedInAt = nil
}

// CheckInConsistent reports whether CheckedInAt is set exactly when CheckedIn is true
func (p *Participant) CheckInConsistent() bool {
	return p.CheckedIn == (p.CheckedInAt != nil)
}

// Attribute returns a descriptive attribute, or an empty string when absent
func (p *Participant) Attribute(column string) string {
	if p.Attributes == nil {
		return ""
	}
	return p.Attributes[column]
}

// Clone returns a deep copy so callers cannot mutate stored state
func (p *Participant) Clone() *Participant {
	c := *p
	if p.Attributes != nil {
		c.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			c.Attributes[k] = v
		}
	}
	if p.CheckedInAt != nil {
		at := *p.CheckedInAt
		c.CheckedInAt = &at
	}
	return &c
}

// ParticipantRow is one candidate row of an import batch
type ParticipantRow struct {
	Line        int               `json:"line"`
	ID          string            `json:"id" validate:"required,max=255,printable"`
	Name        string            `json:"name" validate:"max=1024,printable"`
	Attributes  map[string]string `json:"attributes,omitempty" validate:"dive,max=1024,printable"`
	CheckedIn   bool              `json:"check_in"`
	CheckedInAt *time.Time        `json:"checked_in_at"`
}

// Participant converts the row into a store record
func (r *ParticipantRow) Participant() *Participant {
	p := NewParticipant(r.ID, r.Name, r.Attributes)
	if r.CheckedIn && r.CheckedInAt != nil {
		p.MarkCheckedIn(*r.CheckedInAt)
	}
	return p
}

// ChangeEvent is the payload pushed to live subscribers after a check-in change
type ChangeEvent struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CheckedIn   bool              `json:"check_in"`
	CheckedInAt *string           `json:"checked_in_at"`
}

// NewChangeEvent builds an event from the current record, rendering the
// timestamp in loc
func NewChangeEvent(p *Participant, loc *time.Location) ChangeEvent {
	ev := ChangeEvent{
		ID:         p.ID,
		Name:       p.Name,
		Attributes: p.Attributes,
		CheckedIn:  p.CheckedIn,
	}
	if p.CheckedInAt != nil {
		ts := FormatTimestamp(*p.CheckedInAt, loc)
		ev.CheckedInAt = &ts
	}
	return ev
}

// FormatTimestamp renders a check-in instant in the reporting time zone
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(time.RFC3339Nano)
}
