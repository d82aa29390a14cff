// Package domain defines the business logic for the activity sync engine.
package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNoCachedActivities signals that no rows exist locally for the requested
	// window, so callers can distinguish "never synced" from "no activities".
	ErrNoCachedActivities = errors.New("no cached activities for owner")
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrInvalidTag is returned when a tag outside the fixed set is supplied.
	ErrInvalidTag = errors.New("invalid run tag")
	// ErrProviderUnavailable indicates the provider list call failed; callers
	// fall back to the cached slice.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderThrottled indicates the provider signalled rate limiting.
	ErrProviderThrottled = errors.New("provider throttled")
)

// CalorieSource records where the stored calorie value came from.
type CalorieSource string

const (
	CalorieSourceNone      CalorieSource = "none"
	CalorieSourceSummary   CalorieSource = "summary"
	CalorieSourceDetail    CalorieSource = "detail"
	CalorieSourcePreserved CalorieSource = "preserved"
)

// TagSource distinguishes classifier output from explicit user actions.
type TagSource string

const (
	TaggedByAuto TagSource = "auto"
	TaggedByUser TagSource = "user"
)

// RunTag is the training-type classification for a run activity.
type RunTag string

const (
	TagEasy      RunTag = "easy"
	TagRecovery  RunTag = "recovery"
	TagTempo     RunTag = "tempo"
	TagIntervals RunTag = "intervals"
	TagLong      RunTag = "long"
)

// ValidTags is the fixed set accepted by the tagging API.
var ValidTags = map[RunTag]struct{}{
	TagEasy:      {},
	TagRecovery:  {},
	TagTempo:     {},
	TagIntervals: {},
	TagLong:      {},
}

// ParseRunTag validates a user-supplied tag against the fixed set.
func ParseRunTag(raw string) (RunTag, error) {
	tag := RunTag(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := ValidTags[tag]; !ok {
		return "", ErrInvalidTag
	}
	return tag, nil
}

// ActivityRecord is the canonical per-activity row stored in Postgres. The
// (OwnerID, ID) pair is the stable primary key; re-syncs upsert, never
// duplicate.
type ActivityRecord struct {
	ID      string
	OwnerID string
	Type    string

	StartTime time.Time
	Date      string // calendar day in the owner's convention, YYYY-MM-DD

	DistanceKm     float64
	MovingTimeSec  int
	ElapsedTimeSec int
	ElevationGainM float64

	// Heart-rate fields are absent when the recording device had no sensor.
	AverageHeartRate *float64
	MaxHeartRate     *float64

	Calories      int
	CalorieSource CalorieSource

	IsRunActivity bool

	RunTag       RunTag
	TaggedBy     TagSource
	UserOverride bool
	Confidence   float64
	TaggedAt     time.Time

	SufferScore *float64
	GearID      string

	HasDetailedAnalysis bool
	FetchedAt           time.Time
}

// IsRunType reports whether a provider activity type denotes a run.
func IsRunType(activityType string) bool {
	switch strings.ToLower(activityType) {
	case "run", "trailrun", "trail run", "virtualrun", "virtual run":
		return true
	}
	return false
}

// CalorieBearingType reports whether the provider is known to compute
// calories for the given activity type, making a detail fetch worthwhile.
func CalorieBearingType(activityType string) bool {
	switch strings.ToLower(activityType) {
	case "run", "trailrun", "trail run", "virtualrun", "virtual run",
		"walk", "hike", "ride", "virtualride", "virtual ride":
		return true
	}
	return false
}

// PaceMinPerKm returns the moving pace in minutes per kilometre, or 0 when
// distance is unknown.
func (r ActivityRecord) PaceMinPerKm() float64 {
	if r.DistanceKm <= 0 {
		return 0
	}
	return (float64(r.MovingTimeSec) / 60.0) / r.DistanceKm
}
