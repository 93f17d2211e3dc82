package workspaces

import (
	"errors"
	"fmt"
	"time"
)

// VersionKeyLayout renders a save time as the public version key.
const VersionKeyLayout = "2006-01-02 15:04:05"

// versionKeyInputLayout also accepts fields without zero padding, e.g. "2024-1-2 3:04:05".
const versionKeyInputLayout = "2006-1-2 15:4:5"

// ErrParseFailure indicates that a version key did not match VersionKeyLayout.
var ErrParseFailure = errors.New("workspaces: unparseable version key")

// VersionKeys formats and parses version keys in a fixed location.
type VersionKeys struct {
	location *time.Location
}

// NewVersionKeys binds version keys to the provided location, defaulting to UTC.
func NewVersionKeys(location *time.Location) VersionKeys {
	if location == nil {
		location = time.UTC
	}
	return VersionKeys{location: location}
}

// Location exposes the configured location.
func (k VersionKeys) Location() *time.Location {
	if k.location == nil {
		return time.UTC
	}
	return k.location
}

// Format renders a UTC timestamp as a local version key.
func (k VersionKeys) Format(timestamp time.Time) string {
	return timestamp.In(k.Location()).Format(VersionKeyLayout)
}

// Parse converts a local version key back into a UTC timestamp. A key that falls in
// a repeated wall-clock hour resolves to the standard-time instant.
func (k VersionKeys) Parse(raw string) (time.Time, error) {
	candidates, err := k.Candidates(raw)
	if err != nil {
		return time.Time{}, err
	}
	return candidates[0], nil
}

// Candidates returns every UTC instant whose version key is raw, standard time first.
// Keys inside a daylight-saving fall-back hour have two; keys in a skipped hour
// keep the single normalized instant.
func (k VersionKeys) Candidates(raw string) ([]time.Time, error) {
	wall, err := time.Parse(versionKeyInputLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrParseFailure, raw)
	}
	canonical := wall.Format(VersionKeyLayout)
	parsed := time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), 0, k.Location())

	var standard, daylight []time.Time
	for _, shift := range []time.Duration{-time.Hour, 0, time.Hour} {
		candidate := parsed.Add(shift)
		if k.Format(candidate) != canonical {
			continue
		}
		if candidate.In(k.Location()).IsDST() {
			daylight = append(daylight, candidate.UTC())
		} else {
			standard = append(standard, candidate.UTC())
		}
	}
	candidates := append(standard, daylight...)
	if len(candidates) == 0 {
		return []time.Time{parsed.UTC()}, nil
	}
	return candidates, nil
}
