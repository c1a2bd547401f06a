package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FeatureMeasurementType tags the kind of a feature measurement or prediction.
type FeatureMeasurementType string

const (
	MeasurementArrivalTime             FeatureMeasurementType = "ARRIVAL_TIME"
	MeasurementReceiverToSourceAzimuth FeatureMeasurementType = "RECEIVER_TO_SOURCE_AZIMUTH"
	MeasurementSourceToReceiverAzimuth FeatureMeasurementType = "SOURCE_TO_RECEIVER_AZIMUTH"
	MeasurementSlowness                FeatureMeasurementType = "SLOWNESS"
	MeasurementEmergenceAngle          FeatureMeasurementType = "EMERGENCE_ANGLE"
	MeasurementRectilinearity          FeatureMeasurementType = "RECTILINEARITY"
	MeasurementPhase                   FeatureMeasurementType = "PHASE"
	MeasurementAmplitude               FeatureMeasurementType = "AMPLITUDE"
	MeasurementAmplitudeA5Over2        FeatureMeasurementType = "AMPLITUDE_A5_OVER_2"
	MeasurementAmplitudeALROver2       FeatureMeasurementType = "AMPLITUDE_ALR_OVER_2"
	MeasurementAmplitudeANLOver2       FeatureMeasurementType = "AMPLITUDE_ANL_OVER_2"
)

// IsAmplitude reports whether t is one of the amplitude measurement types.
func (t FeatureMeasurementType) IsAmplitude() bool {
	return strings.HasPrefix(string(t), string(MeasurementAmplitude))
}

// Units of a DoubleValue.
type Units string

const (
	UnitsDegrees          Units = "DEGREES"
	UnitsSeconds          Units = "SECONDS"
	UnitsSecondsPerDegree Units = "SECONDS_PER_DEGREE"
	UnitsUnitless         Units = "UNITLESS"
)

// DoubleValue is a value with uncertainty and units.
type DoubleValue struct {
	Value             float64 `json:"value"`
	StandardDeviation float64 `json:"standardDeviation"`
	Units             Units   `json:"units"`
}

// MeasurementValue is implemented by every typed measurement value.
type MeasurementValue interface {
	measurementValue()
}

// InstantMeasurementValue is a point in time (epoch seconds) with uncertainty.
type InstantMeasurementValue struct {
	Value             float64 `json:"value"`
	StandardDeviation float64 `json:"standardDeviation"`
}

// NumericMeasurementValue is a scalar measured at a reference time.
type NumericMeasurementValue struct {
	ReferenceTime    float64     `json:"referenceTime"`
	MeasurementValue DoubleValue `json:"measurementValue"`
}

// PhaseTypeMeasurementValue is a phase label with confidence.
type PhaseTypeMeasurementValue struct {
	Phase      string  `json:"phase"`
	Confidence float64 `json:"confidence"`
}

// AmplitudeMeasurementValue is a peak-to-trough amplitude reading.
type AmplitudeMeasurementValue struct {
	StartTime float64     `json:"startTime"`
	Period    float64     `json:"period"`
	Amplitude DoubleValue `json:"amplitude"`
}

func (InstantMeasurementValue) measurementValue()   {}
func (NumericMeasurementValue) measurementValue()   {}
func (PhaseTypeMeasurementValue) measurementValue() {}
func (AmplitudeMeasurementValue) measurementValue() {}

// DecodeMeasurementValue decodes raw into the concrete value type selected by t.
// A missing or null value decodes to nil.
func DecodeMeasurementValue(t FeatureMeasurementType, raw json.RawMessage) (MeasurementValue, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch {
	case t == MeasurementArrivalTime:
		var v InstantMeasurementValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s value: %w", t, err)
		}
		return v, nil
	case t == MeasurementReceiverToSourceAzimuth, t == MeasurementSourceToReceiverAzimuth,
		t == MeasurementSlowness, t == MeasurementEmergenceAngle, t == MeasurementRectilinearity:
		var v NumericMeasurementValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s value: %w", t, err)
		}
		return v, nil
	case t == MeasurementPhase:
		var v PhaseTypeMeasurementValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s value: %w", t, err)
		}
		return v, nil
	case t.IsAmplitude():
		var v AmplitudeMeasurementValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s value: %w", t, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported feature measurement type %q", t)
}

// FeatureMeasurement is a typed measurement attached to a detection hypothesis.
type FeatureMeasurement struct {
	ID                     string                 `json:"id"`
	FeatureMeasurementType FeatureMeasurementType `json:"featureMeasurementType"`
	MeasurementValue       MeasurementValue       `json:"measurementValue"`
}

// UnmarshalJSON decodes the measurement value according to its type tag.
func (f *FeatureMeasurement) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID                     string                 `json:"id"`
		FeatureMeasurementType FeatureMeasurementType `json:"featureMeasurementType"`
		MeasurementValue       json.RawMessage        `json:"measurementValue"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	value, err := DecodeMeasurementValue(aux.FeatureMeasurementType, aux.MeasurementValue)
	if err != nil {
		return err
	}
	f.ID = aux.ID
	f.FeatureMeasurementType = aux.FeatureMeasurementType
	f.MeasurementValue = value
	return nil
}

// FeaturePrediction is a predicted feature value for a location solution.
type FeaturePrediction struct {
	ID             string                 `json:"id"`
	Phase          string                 `json:"phase"`
	PredictionType FeatureMeasurementType `json:"predictionType"`
	StationID      string                 `json:"stationId,omitempty"`
	ChannelID      string                 `json:"channelId,omitempty"`
	Extrapolated   bool                   `json:"extrapolated"`
	PredictedValue MeasurementValue       `json:"predictedValue,omitempty"`
}

// UnmarshalJSON decodes the predicted value according to the prediction type.
func (p *FeaturePrediction) UnmarshalJSON(data []byte) error {
	type plain FeaturePrediction
	var aux struct {
		plain
		PredictedValue json.RawMessage `json:"predictedValue"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	value, err := DecodeMeasurementValue(aux.PredictionType, aux.PredictedValue)
	if err != nil {
		return err
	}
	*p = FeaturePrediction(aux.plain)
	p.PredictedValue = value
	return nil
}

// SignalDetection is a client-visible record of a detected arrival.
//
// Modified tracks edits to the detection's own values; AssociationModified
// tracks edits to its association with an event. The two are independent.
type SignalDetection struct {
	ID                     string                    `json:"id"`
	MonitoringOrganization string                    `json:"monitoringOrganization,omitempty"`
	StationID              string                    `json:"stationId"`
	Modified               bool                      `json:"modified"`
	AssociationModified    bool                      `json:"associationModified"`
	CurrentHypothesis      SignalDetectionHypothesis `json:"currentHypothesis"`
}

// SignalDetectionHypothesis is one revision of a detection.
type SignalDetectionHypothesis struct {
	ID                  string               `json:"id"`
	Rejected            bool                 `json:"rejected"`
	FeatureMeasurements []FeatureMeasurement `json:"featureMeasurements"`
}

// Validate checks that the detection and its current hypothesis are identifiable.
func (s *SignalDetection) Validate() error {
	if s.ID == "" {
		return errors.New("signal detection ID must not be empty")
	}
	if s.CurrentHypothesis.ID == "" {
		return errors.New("signal detection current hypothesis ID must not be empty")
	}
	for i, fm := range s.CurrentHypothesis.FeatureMeasurements {
		if fm.FeatureMeasurementType == "" {
			return fmt.Errorf("feature measurement %d has no type", i)
		}
	}
	return nil
}
