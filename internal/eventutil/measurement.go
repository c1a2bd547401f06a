package eventutil

import "github.com/rewired-gh/seismerge/internal/models"

// FindFeatureMeasurement returns the first measurement of type t.
func FindFeatureMeasurement(fms []models.FeatureMeasurement, t models.FeatureMeasurementType) (*models.FeatureMeasurement, bool) {
	for i := range fms {
		if fms[i].FeatureMeasurementType == t {
			return &fms[i], true
		}
	}
	return nil, false
}

// ArrivalTime returns the arrival time of the detection's current hypothesis.
func ArrivalTime(sd *models.SignalDetection) (models.InstantMeasurementValue, bool) {
	fm, ok := FindFeatureMeasurement(sd.CurrentHypothesis.FeatureMeasurements, models.MeasurementArrivalTime)
	if !ok {
		return models.InstantMeasurementValue{}, false
	}
	v, ok := fm.MeasurementValue.(models.InstantMeasurementValue)
	return v, ok
}

// Azimuth returns the receiver-to-source azimuth, or the source-to-receiver
// azimuth when the former is absent.
func Azimuth(sd *models.SignalDetection) (models.NumericMeasurementValue, bool) {
	for _, t := range []models.FeatureMeasurementType{
		models.MeasurementReceiverToSourceAzimuth,
		models.MeasurementSourceToReceiverAzimuth,
	} {
		if v, ok := numeric(sd, t); ok {
			return v, true
		}
	}
	return models.NumericMeasurementValue{}, false
}

// Slowness returns the slowness measurement.
func Slowness(sd *models.SignalDetection) (models.NumericMeasurementValue, bool) {
	return numeric(sd, models.MeasurementSlowness)
}

// Phase returns the phase label measurement.
func Phase(sd *models.SignalDetection) (models.PhaseTypeMeasurementValue, bool) {
	fm, ok := FindFeatureMeasurement(sd.CurrentHypothesis.FeatureMeasurements, models.MeasurementPhase)
	if !ok {
		return models.PhaseTypeMeasurementValue{}, false
	}
	v, ok := fm.MeasurementValue.(models.PhaseTypeMeasurementValue)
	return v, ok
}

// Amplitude returns the first amplitude measurement of any amplitude type.
func Amplitude(sd *models.SignalDetection) (models.AmplitudeMeasurementValue, bool) {
	for _, fm := range sd.CurrentHypothesis.FeatureMeasurements {
		if !fm.FeatureMeasurementType.IsAmplitude() {
			continue
		}
		if v, ok := fm.MeasurementValue.(models.AmplitudeMeasurementValue); ok {
			return v, true
		}
	}
	return models.AmplitudeMeasurementValue{}, false
}

func numeric(sd *models.SignalDetection, t models.FeatureMeasurementType) (models.NumericMeasurementValue, bool) {
	fm, ok := FindFeatureMeasurement(sd.CurrentHypothesis.FeatureMeasurements, t)
	if !ok {
		return models.NumericMeasurementValue{}, false
	}
	v, ok := fm.MeasurementValue.(models.NumericMeasurementValue)
	return v, ok
}
