package domain

import "time"

// ProviderSummary is the typed view of one activity from the provider's bulk
// list endpoint. Cheap, called every refresh, authoritative for descriptive
// fields but frequently missing calories.
type ProviderSummary struct {
	ID             string
	Type           string
	StartTime      time.Time
	DistanceKm     float64
	MovingTimeSec  int
	ElapsedTimeSec int
	ElevationGainM float64

	AverageHeartRate *float64
	MaxHeartRate     *float64

	Calories    int
	SufferScore *float64
	GearID      string
}

// ProviderDetail is the typed view of the per-activity detail endpoint.
// Expensive and rate limited; carries the fields the summary omits.
type ProviderDetail struct {
	ID          string
	Calories    int
	SufferScore *float64
	GearID      string
}

// Merge reconciles a freshly listed summary, an optionally fetched detail, and
// the previously stored record into one canonical record. Precedence is
// evaluated independently per field so an incomplete summary response cannot
// clobber detail data obtained in an earlier cycle.
//
// Rules:
//   - calories: detail > summary > preserved previous > none, with the source
//     enum tracking the winning origin
//   - tag block: copied verbatim from previous when UserOverride is set;
//     otherwise left for ApplyAutoTag
//   - HasDetailedAnalysis: monotonic, never reverts to false
//   - descriptive fields: always the fresh summary
//   - ID/OwnerID/StartTime: immutable once set
func Merge(summary ProviderSummary, detail *ProviderDetail, previous *ActivityRecord, ownerID string, now time.Time) ActivityRecord {
	rec := ActivityRecord{
		ID:             summary.ID,
		OwnerID:        ownerID,
		Type:           summary.Type,
		StartTime:      summary.StartTime,
		DistanceKm:     summary.DistanceKm,
		MovingTimeSec:  summary.MovingTimeSec,
		ElapsedTimeSec: summary.ElapsedTimeSec,
		ElevationGainM: summary.ElevationGainM,

		AverageHeartRate: summary.AverageHeartRate,
		MaxHeartRate:     summary.MaxHeartRate,

		IsRunActivity: IsRunType(summary.Type),
		FetchedAt:     now.UTC(),
	}

	if previous != nil {
		rec.ID = previous.ID
		rec.OwnerID = previous.OwnerID
		if !previous.StartTime.IsZero() {
			rec.StartTime = previous.StartTime
		}
	}
	rec.Date = rec.StartTime.Format("2006-01-02")

	rec.Calories, rec.CalorieSource = mergeCalories(summary, detail, previous)
	rec.SufferScore = mergePreserved(summary.SufferScore, detailSufferScore(detail), previousSufferScore(previous))
	rec.GearID = mergeGear(summary.GearID, detail, previous)

	if previous != nil && previous.UserOverride {
		rec.RunTag = previous.RunTag
		rec.TaggedBy = previous.TaggedBy
		rec.UserOverride = true
		rec.Confidence = previous.Confidence
		rec.TaggedAt = previous.TaggedAt
	}

	rec.HasDetailedAnalysis = detail != nil || (previous != nil && previous.HasDetailedAnalysis)

	return rec
}

func mergeCalories(summary ProviderSummary, detail *ProviderDetail, previous *ActivityRecord) (int, CalorieSource) {
	if detail != nil && detail.Calories > 0 {
		return detail.Calories, CalorieSourceDetail
	}
	if summary.Calories > 0 {
		return summary.Calories, CalorieSourceSummary
	}
	if previous != nil && previous.Calories > 0 {
		return previous.Calories, CalorieSourcePreserved
	}
	return 0, CalorieSourceNone
}

// mergePreserved picks the first present value: fresh detail, fresh summary,
// then the previously stored one. Absent-in-fresh never erases a prior value.
func mergePreserved(fromSummary, fromDetail, fromPrevious *float64) *float64 {
	if fromDetail != nil {
		return fromDetail
	}
	if fromSummary != nil {
		return fromSummary
	}
	return fromPrevious
}

func mergeGear(fromSummary string, detail *ProviderDetail, previous *ActivityRecord) string {
	if detail != nil && detail.GearID != "" {
		return detail.GearID
	}
	if fromSummary != "" {
		return fromSummary
	}
	if previous != nil {
		return previous.GearID
	}
	return ""
}

func detailSufferScore(detail *ProviderDetail) *float64 {
	if detail == nil {
		return nil
	}
	return detail.SufferScore
}

func previousSufferScore(previous *ActivityRecord) *float64 {
	if previous == nil {
		return nil
	}
	return previous.SufferScore
}
