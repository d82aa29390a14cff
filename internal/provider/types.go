package provider

import (
	"fmt"
	"strconv"
	"time"

	"example.com/activitysync/internal/domain"
)

// summaryPayload mirrors one entry of the provider's list response. Distances
// arrive in metres and are converted to kilometres at the boundary.
type summaryPayload struct {
	ID                 int64    `json:"id"`
	Type               string   `json:"type"`
	StartDate          string   `json:"start_date"` // ISO 8601
	Distance           float64  `json:"distance"`   // meters
	MovingTime         int      `json:"moving_time"`
	ElapsedTime        int      `json:"elapsed_time"`
	TotalElevationGain float64  `json:"total_elevation_gain"`
	AverageHeartrate   *float64 `json:"average_heartrate,omitempty"`
	MaxHeartrate       *float64 `json:"max_heartrate,omitempty"`
	Calories           float64  `json:"calories,omitempty"`
	SufferScore        *float64 `json:"suffer_score,omitempty"`
	GearID             string   `json:"gear_id,omitempty"`
}

type detailPayload struct {
	ID          int64    `json:"id"`
	Calories    float64  `json:"calories"`
	SufferScore *float64 `json:"suffer_score,omitempty"`
	GearID      string   `json:"gear_id,omitempty"`
}

func (p summaryPayload) toSummary() (domain.ProviderSummary, error) {
	startTime, err := time.Parse(time.RFC3339, p.StartDate)
	if err != nil {
		return domain.ProviderSummary{}, fmt.Errorf("activity %d: parse start_date %q: %w", p.ID, p.StartDate, err)
	}
	return domain.ProviderSummary{
		ID:               formatID(p.ID),
		Type:             p.Type,
		StartTime:        startTime.UTC(),
		DistanceKm:       p.Distance / 1000.0,
		MovingTimeSec:    p.MovingTime,
		ElapsedTimeSec:   p.ElapsedTime,
		ElevationGainM:   p.TotalElevationGain,
		AverageHeartRate: p.AverageHeartrate,
		MaxHeartRate:     p.MaxHeartrate,
		Calories:         int(p.Calories),
		SufferScore:      p.SufferScore,
		GearID:           p.GearID,
	}, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (p detailPayload) toDetail() domain.ProviderDetail {
	return domain.ProviderDetail{
		ID:          formatID(p.ID),
		Calories:    int(p.Calories),
		SufferScore: p.SufferScore,
		GearID:      p.GearID,
	}
}
