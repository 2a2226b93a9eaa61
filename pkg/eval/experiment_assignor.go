package eval

import (
	"fmt"

	"github.com/togglebox/togglebox/pkg/bucket"
	"github.com/togglebox/togglebox/pkg/model"
	"github.com/togglebox/togglebox/pkg/stats"
)

// AssignVariation deterministically places a context into one of the
// experiment's variations, or returns nil when the user is not in the
// experiment.
//
// Eligibility: the experiment must be running or paused (paused keeps serving
// already-bucketed users so in-flight analysis stays consistent), the user
// must not be force-excluded, and country/language targeting must match
// unless the user is force-included. Once eligible, the user's bucket score
// is walked through the traffic allocation in definition order; a score
// landing past the cumulative sum means the user is held out.
func AssignVariation(exp model.Experiment, ctx model.EvaluationContext) *model.VariantAssignment {
	if exp.Status != model.StatusRunning && exp.Status != model.StatusPaused {
		return nil
	}

	userID := ctx.ResolvedUserID()

	if exp.Targeting.ForceExcluded(userID) {
		return nil
	}

	forceIncluded := exp.Targeting.ForceIncluded(userID)
	if !forceIncluded && len(exp.Targeting.Countries) > 0 {
		rule, ok := exp.Targeting.CountryRuleFor(ctx.Country)
		if !ok {
			return nil
		}
		if len(rule.Languages) > 0 && !languageMatches(rule.Languages, ctx.Language) {
			return nil
		}
	}

	score := bucket.Score(exp.ExperimentKey, userID)

	cumulative := 0.0
	for _, alloc := range exp.TrafficAllocation {
		cumulative += alloc.Percentage
		if score >= cumulative {
			continue
		}

		variation, ok := exp.VariationByKey(alloc.VariationKey)
		if !ok {
			// allocation references a variation that no longer exists;
			// treat as not eligible rather than crash
			return nil
		}

		how := "bucketed"
		if forceIncluded {
			how = "force-included, bucketed"
		}
		return &model.VariantAssignment{
			ExperimentKey: exp.ExperimentKey,
			VariationKey:  variation.Key,
			Value:         variation.Value,
			IsControl:     variation.Key == exp.ControlVariation || variation.IsControl,
			Reason: fmt.Sprintf("%s into %q (score %.3f < boundary %.1f)",
				how, variation.Key, score, cumulative),
		}
	}

	// traffic allocation gap: the cumulative sum leaves an uncovered tail
	return nil
}

func languageMatches(rules []model.LanguageRule, language string) bool {
	for _, r := range rules {
		if r.Language == language {
			return true
		}
	}
	return false
}

// Assignor wraps the pure AssignVariation with exposure recording. Every
// non-nil assignment is reported exactly once per call; deduplication of
// repeated exposures is the recording layer's concern.
type Assignor struct {
	sink stats.Sink
}

func NewAssignor(sink stats.Sink) *Assignor {
	if sink == nil {
		sink = stats.Noop{}
	}
	return &Assignor{sink: sink}
}

// Assign computes the assignment and records the exposure. Paused
// experiments still serve their bucketed users but stop emitting exposures,
// so pausing does not skew in-flight analysis.
func (a *Assignor) Assign(exp model.Experiment, ctx model.EvaluationContext) *model.VariantAssignment {
	assignment := AssignVariation(exp, ctx)
	if assignment != nil && exp.Status == model.StatusRunning {
		a.sink.TrackExperimentExposure(exp.ExperimentKey, assignment.VariationKey, ctx.ResolvedUserID())
	}
	return assignment
}
