package domain

import "time"

// Classification thresholds. Working defaults; tune with care since stored
// auto tags are recomputed on every refresh for non-overridden records.
const (
	longDistanceKm   = 15.0
	longComboKm      = 10.0
	longComboPace    = 5.5
	recoveryMaxKm    = 5.0
	recoveryMinPace  = 6.5
	recoveryMaxHR    = 140.0
	recoveryHRMaxKm  = 8.0
	intervalsMaxPace = 4.0
	intervalsMaxKm   = 10.0
	intervalsMinHR   = 170.0
	intervalsHRMaxKm = 8.0
	// Tempo pace ceiling is inclusive of a flat 5.5 min/km so a 12 km run at
	// exactly marathon-ish effort lands in tempo rather than easy.
	tempoMaxPace = 5.5
	tempoMinKm   = 5.0
	tempoMaxKm   = 12.0
	tempoHRLow   = 155.0
	tempoHRHigh  = 170.0
	tempoHRMinKm = 5.0
)

// Classify maps a run's distance, pace, and heart rate onto a training-type
// tag with a confidence score. Pure and deterministic; first matching rule
// wins. Callers are responsible for skipping activities with a user override.
func Classify(distanceKm float64, movingTimeSec int, avgHeartRate *float64) (RunTag, float64) {
	if distanceKm <= 0 {
		return TagEasy, 0.3
	}
	pace := (float64(movingTimeSec) / 60.0) / distanceKm

	switch {
	case distanceKm >= longDistanceKm:
		return TagLong, 0.9
	case distanceKm >= longComboKm && pace > longComboPace:
		return TagLong, 0.8
	case distanceKm <= recoveryMaxKm && pace > recoveryMinPace:
		return TagRecovery, 0.8
	case avgHeartRate != nil && *avgHeartRate < recoveryMaxHR && distanceKm <= recoveryHRMaxKm:
		return TagRecovery, 0.7
	case pace < intervalsMaxPace && distanceKm <= intervalsMaxKm:
		return TagIntervals, 0.8
	case avgHeartRate != nil && *avgHeartRate > intervalsMinHR && distanceKm <= intervalsHRMaxKm:
		return TagIntervals, 0.7
	case pace <= tempoMaxPace && distanceKm >= tempoMinKm && distanceKm <= tempoMaxKm:
		return TagTempo, 0.8
	case avgHeartRate != nil && *avgHeartRate >= tempoHRLow && *avgHeartRate <= tempoHRHigh && distanceKm >= tempoHRMinKm:
		return TagTempo, 0.7
	}
	return TagEasy, 0.6
}

// ApplyAutoTag runs the classifier against a reconciled record and stores the
// result. Records with a user override are left untouched.
func ApplyAutoTag(rec *ActivityRecord, now time.Time) {
	if rec == nil || !rec.IsRunActivity || rec.UserOverride {
		return
	}
	tag, confidence := Classify(rec.DistanceKm, rec.MovingTimeSec, rec.AverageHeartRate)
	rec.RunTag = tag
	rec.TaggedBy = TaggedByAuto
	rec.Confidence = confidence
	rec.TaggedAt = now.UTC()
}
