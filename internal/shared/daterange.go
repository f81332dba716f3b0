package shared

import "time"

// DateRange filters delivered-order facts by delivery timestamp. A nil bound
// leaves that side open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// IsZero reports whether the range imposes no filter.
func (r DateRange) IsZero() bool {
	return r.From == nil && r.To == nil
}

// Contains reports whether t falls inside the range. Bounds are inclusive.
func (r DateRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}
