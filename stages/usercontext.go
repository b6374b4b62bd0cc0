package stages

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is assumed for a user whose timezone is unknown.
const DefaultTimezone = "Asia/Seoul"

// UserContext is what the host knows about the user of a session.
type UserContext struct {
	Email     *string `json:"email,omitempty"`
	Username  *string `json:"username,omitempty"`
	Job       *string `json:"job,omitempty"`
	Gender    *string `json:"gender,omitempty"`
	BirthYear *int    `json:"birth_year,omitempty"`
	Timezone  *string `json:"timezone,omitempty"`
	Datetime  *string `json:"datetime,omitempty"`
	LangCode  *string `json:"lang_code,omitempty"`
}

// Lang returns the preferred ISO 639-1 language, "en" when unset.
func (u UserContext) Lang() string {
	if u.LangCode == nil || *u.LangCode == "" {
		return "en"
	}
	return *u.LangCode
}

// NormalizeDatetime rewrites Datetime into the user's timezone. When the
// timezone is known the instant is converted; when it is not, the wall
// clock is kept and reinterpreted in defaultTZ, which becomes the timezone.
func (u *UserContext) NormalizeDatetime(defaultTZ string) error {
	if u.Datetime == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *u.Datetime)
	if err != nil {
		return fmt.Errorf("parse datetime %q: %w", *u.Datetime, err)
	}

	if u.Timezone != nil && *u.Timezone != "" {
		loc, err := time.LoadLocation(*u.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", *u.Timezone, err)
		}
		s := t.In(loc).Format(time.RFC3339)
		u.Datetime = &s
		return nil
	}

	loc, err := time.LoadLocation(defaultTZ)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", defaultTZ, err)
	}
	local := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	s := local.Format(time.RFC3339)
	tz := defaultTZ
	u.Datetime = &s
	u.Timezone = &tz
	return nil
}
