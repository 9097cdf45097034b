// Package clock produces instants and renders them for API output.
package clock

import (
	"fmt"
	"time"
)

// Clock yields UTC instants and formats them in the configured display zone.
type Clock struct {
	loc *time.Location
}

func New(timezone string) (*Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Clock{loc: loc}, nil
}

// Now returns the current instant in UTC.
func (c *Clock) Now() time.Time {
	return time.Now().UTC()
}

// Display renders t as an ISO-8601 string in the configured zone with an
// explicit numeric offset, e.g. "2025-10-16T14:30:00+09:00". UTC renders as
// "+00:00", not "Z", so clients always see the same offset shape.
func (c *Clock) Display(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02T15:04:05-07:00")
}
