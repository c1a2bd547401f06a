package eventutil

import "github.com/rewired-gh/seismerge/internal/models"

// Offset shifts a station's waveforms so that predicted arrivals of one phase line up.
type Offset struct {
	StationID string  `json:"stationId"`
	Offset    float64 `json:"offset"`
}

// CalculateOffsets aligns stations on phase. The earliest predicted arrival
// of phase is the base; every station with an arrival time prediction for
// phase gets base minus its own predicted time. Only the first prediction per
// station counts, and results follow prediction order.
func CalculateOffsets(predictions []models.FeaturePrediction, phase string) []Offset {
	type arrival struct {
		station string
		time    float64
	}

	var arrivals []arrival
	seen := make(map[string]struct{})
	for _, fp := range predictions {
		if fp.PredictionType != models.MeasurementArrivalTime || fp.Phase != phase {
			continue
		}
		v, ok := fp.PredictedValue.(models.InstantMeasurementValue)
		if !ok {
			continue
		}
		station := fp.StationID
		if station == "" {
			station = fp.ChannelID
		}
		if _, dup := seen[station]; dup {
			continue
		}
		seen[station] = struct{}{}
		arrivals = append(arrivals, arrival{station: station, time: v.Value})
	}

	offsets := make([]Offset, 0, len(arrivals))
	if len(arrivals) == 0 {
		return offsets
	}

	base := arrivals[0].time
	for _, a := range arrivals[1:] {
		if a.time < base {
			base = a.time
		}
	}
	for _, a := range arrivals {
		offsets = append(offsets, Offset{StationID: a.station, Offset: base - a.time})
	}
	return offsets
}
