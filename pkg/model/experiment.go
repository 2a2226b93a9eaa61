package model

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusRunning   ExperimentStatus = "running"
	StatusPaused    ExperimentStatus = "paused"
	StatusCompleted ExperimentStatus = "completed"
	StatusArchived  ExperimentStatus = "archived"
)

// transitions is the one-directional state machine; only running and paused
// may alternate.
var transitions = map[ExperimentStatus][]ExperimentStatus{
	StatusDraft:     {StatusRunning},
	StatusRunning:   {StatusPaused, StatusCompleted},
	StatusPaused:    {StatusRunning, StatusCompleted},
	StatusCompleted: {StatusArchived},
	StatusArchived:  {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to ExperimentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Variation is a single arm of an experiment.
type Variation struct {
	Key       string    `json:"key"`
	Name      string    `json:"name,omitempty"`
	Value     FlagValue `json:"value"`
	IsControl bool      `json:"isControl"`
}

// Allocation assigns a share of traffic to a variation. Entries are walked in
// definition order when bucketing, the order is part of the assignment
// semantics.
type Allocation struct {
	VariationKey string  `json:"variationKey"`
	Percentage   float64 `json:"percentage"`
}

// Metric describes an event-derived measurement attached to an experiment.
type Metric struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	EventName        string `json:"eventName"`
	MetricType       string `json:"metricType"`       // conversion | count | sum | average
	SuccessDirection string `json:"successDirection"` // increase | decrease
}

// Experiment is a multi-variant test scoped to a platform and environment.
type Experiment struct {
	Platform      string `json:"platform"`
	Environment   string `json:"environment"`
	ExperimentKey string `json:"experimentKey"`

	Status ExperimentStatus `json:"status"`

	Variations        []Variation  `json:"variations"`
	ControlVariation  string       `json:"controlVariation"`
	TrafficAllocation []Allocation `json:"trafficAllocation"`

	Targeting Targeting `json:"targeting"`

	PrimaryMetric    *Metric  `json:"primaryMetric,omitempty"`
	SecondaryMetrics []Metric `json:"secondaryMetrics,omitempty"`
	ConfidenceLevel  float64  `json:"confidenceLevel,omitempty"`

	Winner string `json:"winner,omitempty"`
}

// VariationByKey returns the variation with the given key, if defined.
func (e *Experiment) VariationByKey(key string) (Variation, bool) {
	for _, v := range e.Variations {
		if v.Key == key {
			return v, true
		}
	}
	return Variation{}, false
}

// VariantAssignment is the outcome of assigning a user to an experiment.
// It is recomputed on every call, stickiness comes from deterministic
// bucketing rather than storage.
type VariantAssignment struct {
	ExperimentKey string    `json:"experimentKey"`
	VariationKey  string    `json:"variationKey"`
	Value         FlagValue `json:"value"`
	IsControl     bool      `json:"isControl"`
	Reason        string    `json:"reason"`
}
