// Package stats defines the exposure/conversion recording contract consumed
// by the evaluation engine, and a bounded queue implementation of it.
package stats

import (
	"context"
	"time"

	"github.com/togglebox/togglebox/pkg/model"
)

// Sink receives evaluation, exposure and conversion events. Implementations
// must be non-blocking relative to the evaluation call path; callers never
// retry or fail on recording errors.
type Sink interface {
	TrackFlagEvaluation(flagKey string, servedValue model.Serve, userID, country, language string)
	TrackExperimentExposure(experimentKey, variationKey, userID string)
	// TrackConversion takes a value only for sum/average metric types.
	TrackConversion(experimentKey, metricID, variationKey, userID string, value *float64)
	TrackEvent(eventName, userID string, data map[string]interface{})
}

// EventType discriminates queued events.
type EventType string

const (
	EventFlagEvaluation     EventType = "flag_evaluation"
	EventExperimentExposure EventType = "experiment_exposure"
	EventConversion         EventType = "conversion"
	EventCustom             EventType = "custom"
)

// Event is the wire shape handed to a Recorder.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    string                 `json:"userId"`
	Key       string                 `json:"key"`                    // flagKey or experimentKey
	Variant   string                 `json:"variant,omitempty"`      // served value or variation key
	MetricID  string                 `json:"metricId,omitempty"`     // conversions only
	Value     *float64               `json:"value,omitempty"`        // sum/average conversions only
	Country   string                 `json:"country,omitempty"`      // flag evaluations only
	Language  string                 `json:"language,omitempty"`     // flag evaluations only
	EventName string                 `json:"eventName,omitempty"`    // custom events only
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Recorder delivers batches of events to the stats pipeline. At-least-once
// delivery is acceptable.
type Recorder interface {
	Record(ctx context.Context, events []Event) error
}

// Noop discards all events. Useful where the pure evaluation functions are
// exercised without a stats pipeline.
type Noop struct{}

func (Noop) TrackFlagEvaluation(string, model.Serve, string, string, string) {}
func (Noop) TrackExperimentExposure(string, string, string)                  {}
func (Noop) TrackConversion(string, string, string, string, *float64)        {}
func (Noop) TrackEvent(string, string, map[string]interface{})               {}
