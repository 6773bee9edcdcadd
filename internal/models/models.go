// Package models contains the data models and DTOs for the signage agent.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a wall-clock time with minute resolution, stored as minutes
// since midnight. Playlist windows are scheduled at this granularity.
type TimeOfDay struct {
	hour   int
	minute int
}

// NewTimeOfDay builds a TimeOfDay from clock components.
func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("hour out of range: %d", hour)
	}
	if minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("minute out of range: %d", minute)
	}
	return TimeOfDay{hour: hour, minute: minute}, nil
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS"; seconds are truncated.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	if len(parts) == 3 {
		if _, err := strconv.Atoi(parts[2]); err != nil {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
		}
	}

	return NewTimeOfDay(hour, minute)
}

// ClockTime projects a time.Time onto its wall-clock time of day.
func ClockTime(t time.Time) TimeOfDay {
	return TimeOfDay{hour: t.Hour(), minute: t.Minute()}
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.hour*60 + t.minute
}

// Before reports whether t is strictly earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.Minutes() < other.Minutes()
}

func (t TimeOfDay) Equal(other TimeOfDay) bool {
	return t.Minutes() == other.Minutes()
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.hour, t.minute)
}

// MarshalJSON encodes as "HH:MM".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts "HH:MM" and "HH:MM:SS".
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time of day must be a JSON string: %w", err)
	}

	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Video is one downloadable media asset from the content manifest.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Video struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RemoteURL  string `json:"remote_url"`
	LocalPath  string `json:"local_path"`
	Downloaded bool   `json:"downloaded"`
	Order      int    `json:"order"`
}

// Playlist is a scheduled group of videos bound to a daily time window.
// A window with Start after End wraps past midnight.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Playlist struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Start    TimeOfDay `json:"start"`
	End      TimeOfDay `json:"end"`
	Active   bool      `json:"active"`
	Order    int       `json:"order"`
	VideoIDs []string  `json:"video_ids"`
}

// Wraps reports whether the playlist window crosses midnight.
func (p Playlist) Wraps() bool {
	return p.End.Before(p.Start)
}

// Contains reports whether now falls inside the playlist window. Boundaries
// are half-open: the start minute is in, the end minute is out. A window with
// equal start and end never matches.
func (p Playlist) Contains(now TimeOfDay) bool {
	if p.Start.Equal(p.End) {
		return false
	}
	if p.Wraps() {
		return !now.Before(p.Start) || now.Before(p.End)
	}
	return !now.Before(p.Start) && now.Before(p.End)
}

// DeviceInfo is the registration document for this display device. The agent
// only acts on Active; the rest is carried for operators and telemetry.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type DeviceInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Location  string  `json:"location"`
	Active    bool    `json:"active"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ChangelogMarker records the newest remote changelog entry the agent has
// fully synced. It only advances after a successful end-to-end sync.
type ChangelogMarker struct {
	ID          string    `json:"id"`
	DateCreated time.Time `json:"date_created"`
}

// IsZero reports whether no changelog entry has been recorded yet.
func (m ChangelogMarker) IsZero() bool {
	return m.ID == ""
}

// SyncReport summarizes one end-to-end sync run.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type SyncReport struct {
	RunID     uuid.UUID `json:"run_id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    []string  `json:"failed,omitempty"`
}

// Succeeded reports whether every pending video finished downloading.
func (r SyncReport) Succeeded() bool {
	return len(r.Failed) == 0
}

// ErrorResponse represents an error response.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
}

// CompareIDs orders record ids numerically when both parse as integers and
// lexically otherwise, so "9" sorts before "101" but mixed ids stay stable.
func CompareIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
