package model

import "time"

// Service is a bookable offering. Duration and buffers are minutes.
type Service struct {
	ID                  string
	SiteID              string
	Name                string
	DurationMins        int
	BufferBeforeMins    int
	BufferAfterMins     int
	AllowOnline         bool
	RequireConfirmation bool
	Active              bool
}

func (s Service) Duration() time.Duration     { return time.Duration(s.DurationMins) * time.Minute }
func (s Service) BufferBefore() time.Duration { return time.Duration(s.BufferBeforeMins) * time.Minute }
func (s Service) BufferAfter() time.Duration  { return time.Duration(s.BufferAfterMins) * time.Minute }

type Staff struct {
	ID              string
	SiteID          string
	Name            string
	Active          bool
	AcceptsBookings bool
	Timezone        string
}

// SiteSettings are the per-site booking knobs. Time-of-day rule arithmetic
// happens in the site's timezone; instants are exchanged as UTC.
type SiteSettings struct {
	SiteID           string
	Timezone         string
	SlotIntervalMins int
	MinNoticeHours   int
	MaxAdvanceDays   int
	AutoConfirm      bool
}

func (s SiteSettings) SlotInterval() time.Duration {
	if s.SlotIntervalMins <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.SlotIntervalMins) * time.Minute
}

func (s SiteSettings) MinNotice() time.Duration {
	if s.MinNoticeHours <= 0 {
		return 0
	}
	return time.Duration(s.MinNoticeHours) * time.Hour
}

func (s SiteSettings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil || s.Timezone == "" {
		return time.UTC
	}
	return loc
}

// TimeSlot is an ephemeral candidate start produced by the availability
// pipeline. StaffID is set only when the caller asked for a specific staff
// member; in pool mode only availability is exposed.
type TimeSlot struct {
	StaffID   string
	StartTime time.Time
	EndTime   time.Time
}
