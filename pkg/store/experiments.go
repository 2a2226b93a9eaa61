package store

import (
	"context"
	"fmt"
	"math"

	"github.com/togglebox/togglebox/pkg/model"
)

// validateExperiment enforces the write-boundary invariants: exactly one
// control variation agreeing with controlVariation, one allocation entry per
// variation, and percentages summing to 100. The assignor itself tolerates
// any sum; the boundary does not.
func validateExperiment(exp model.Experiment) error {
	if exp.Platform == "" || exp.Environment == "" || exp.ExperimentKey == "" {
		return fmt.Errorf("%s: experiment identity requires platform, environment and experimentKey",
			model.ValidationErrorCode)
	}
	if len(exp.Variations) < 2 {
		return fmt.Errorf("%s: experiment needs at least two variations", model.ValidationErrorCode)
	}

	controls := 0
	keys := map[string]bool{}
	for _, v := range exp.Variations {
		if v.Key == "" {
			return fmt.Errorf("%s: variation key must not be empty", model.ValidationErrorCode)
		}
		if keys[v.Key] {
			return fmt.Errorf("%s: duplicate variation key %q", model.ValidationErrorCode, v.Key)
		}
		keys[v.Key] = true
		if v.IsControl {
			controls++
			if exp.ControlVariation != "" && exp.ControlVariation != v.Key {
				return fmt.Errorf("%s: controlVariation %q disagrees with isControl on %q",
					model.ValidationErrorCode, exp.ControlVariation, v.Key)
			}
		}
	}
	if controls != 1 {
		return fmt.Errorf("%s: exactly one variation must be the control, got %d",
			model.ValidationErrorCode, controls)
	}

	if err := validateAllocation(exp.TrafficAllocation, keys); err != nil {
		return err
	}

	if exp.ConfidenceLevel != 0 && (exp.ConfidenceLevel <= 0 || exp.ConfidenceLevel >= 1) {
		return fmt.Errorf("%s: confidenceLevel must be in (0,1)", model.ValidationErrorCode)
	}
	return nil
}

func validateAllocation(allocation []model.Allocation, variationKeys map[string]bool) error {
	if len(allocation) != len(variationKeys) {
		return fmt.Errorf("%s: traffic allocation must carry one entry per variation",
			model.ValidationErrorCode)
	}
	seen := map[string]bool{}
	sum := 0.0
	for _, a := range allocation {
		if !variationKeys[a.VariationKey] {
			return fmt.Errorf("%s: allocation references unknown variation %q",
				model.ValidationErrorCode, a.VariationKey)
		}
		if seen[a.VariationKey] {
			return fmt.Errorf("%s: duplicate allocation for variation %q",
				model.ValidationErrorCode, a.VariationKey)
		}
		seen[a.VariationKey] = true
		if a.Percentage < 0 || a.Percentage > 100 {
			return fmt.Errorf("%s: allocation percentage must be within [0,100]",
				model.ValidationErrorCode)
		}
		sum += a.Percentage
	}
	if math.Abs(sum-100) > allocationEpsilon {
		return fmt.Errorf("%s: traffic allocation must sum to 100, got %.3f",
			model.ValidationErrorCode, sum)
	}
	return nil
}

// CreateExperiment inserts a new experiment. New experiments always start as
// drafts regardless of the status on the definition.
func (s *Store) CreateExperiment(exp model.Experiment) (model.Experiment, error) {
	if err := validateExperiment(exp); err != nil {
		return model.Experiment{}, err
	}
	exp.Status = model.StatusDraft

	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableExperiments, "id", exp.Platform, exp.Environment, exp.ExperimentKey)
	if err != nil {
		return model.Experiment{}, err
	}
	if existing != nil {
		return model.Experiment{}, fmt.Errorf("%s: experiment %s already exists",
			model.ValidationErrorCode, exp.ExperimentKey)
	}

	if err := txn.Insert(tableExperiments, experimentRecord{
		Platform:      exp.Platform,
		Environment:   exp.Environment,
		ExperimentKey: exp.ExperimentKey,
		Experiment:    exp,
	}); err != nil {
		return model.Experiment{}, err
	}
	txn.Commit()

	s.log.Debugf("created experiment %s/%s/%s", exp.Platform, exp.Environment, exp.ExperimentKey)
	return exp, nil
}

// UpdateExperiment replaces a draft experiment's definition. Once an
// experiment has started, only its traffic allocation may change
// (UpdateTrafficAllocation).
func (s *Store) UpdateExperiment(exp model.Experiment) (model.Experiment, error) {
	if err := validateExperiment(exp); err != nil {
		return model.Experiment{}, err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableExperiments, "id", exp.Platform, exp.Environment, exp.ExperimentKey)
	if err != nil {
		return model.Experiment{}, err
	}
	if raw == nil {
		return model.Experiment{}, model.ErrExperimentNotFound
	}
	current := raw.(experimentRecord)

	if current.Experiment.Status != model.StatusDraft {
		return model.Experiment{}, fmt.Errorf("%s: only draft experiments may be edited, status is %s",
			model.InvalidTransitionErrorCode, current.Experiment.Status)
	}

	exp.Status = model.StatusDraft
	current.Experiment = exp
	if err := txn.Insert(tableExperiments, current); err != nil {
		return model.Experiment{}, err
	}
	txn.Commit()
	return exp, nil
}

// UpdateTrafficAllocation re-balances traffic for a draft, running or paused
// experiment. Re-balancing a running experiment reshuffles users near moved
// boundaries on their next evaluation; that is inherent to hash bucketing.
func (s *Store) UpdateTrafficAllocation(platform, environment, experimentKey string, allocation []model.Allocation) (model.Experiment, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableExperiments, "id", platform, environment, experimentKey)
	if err != nil {
		return model.Experiment{}, err
	}
	if raw == nil {
		return model.Experiment{}, model.ErrExperimentNotFound
	}
	rec := raw.(experimentRecord)

	switch rec.Experiment.Status {
	case model.StatusDraft, model.StatusRunning, model.StatusPaused:
	default:
		return model.Experiment{}, fmt.Errorf("%s: traffic cannot be re-balanced once %s",
			model.InvalidTransitionErrorCode, rec.Experiment.Status)
	}

	keys := map[string]bool{}
	for _, v := range rec.Experiment.Variations {
		keys[v.Key] = true
	}
	if err := validateAllocation(allocation, keys); err != nil {
		return model.Experiment{}, err
	}

	rec.Experiment.TrafficAllocation = allocation
	if err := txn.Insert(tableExperiments, rec); err != nil {
		return model.Experiment{}, err
	}
	txn.Commit()
	return rec.Experiment, nil
}

// TransitionExperiment moves an experiment along its lifecycle. Completing an
// experiment takes an optional winner variation key.
func (s *Store) TransitionExperiment(platform, environment, experimentKey string, to model.ExperimentStatus, winner string) (model.Experiment, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableExperiments, "id", platform, environment, experimentKey)
	if err != nil {
		return model.Experiment{}, err
	}
	if raw == nil {
		return model.Experiment{}, model.ErrExperimentNotFound
	}
	rec := raw.(experimentRecord)

	from := rec.Experiment.Status
	if !model.CanTransition(from, to) {
		return model.Experiment{}, fmt.Errorf("%s: %s -> %s",
			model.InvalidTransitionErrorCode, from, to)
	}

	if to == model.StatusCompleted && winner != "" {
		if _, ok := rec.Experiment.VariationByKey(winner); !ok {
			return model.Experiment{}, fmt.Errorf("%s: winner %q is not a variation",
				model.ValidationErrorCode, winner)
		}
		rec.Experiment.Winner = winner
	}

	rec.Experiment.Status = to
	if err := txn.Insert(tableExperiments, rec); err != nil {
		return model.Experiment{}, err
	}
	txn.Commit()

	s.log.Infof("experiment %s transitioned %s -> %s", experimentKey, from, to)
	return rec.Experiment, nil
}

// GetExperiment returns an experiment definition.
func (s *Store) GetExperiment(_ context.Context, platform, environment, experimentKey string) (model.Experiment, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableExperiments, "id", platform, environment, experimentKey)
	if err != nil {
		return model.Experiment{}, err
	}
	if raw == nil {
		return model.Experiment{}, model.ErrExperimentNotFound
	}
	return raw.(experimentRecord).Experiment, nil
}

// ListExperiments returns all experiments in an environment.
func (s *Store) ListExperiments(_ context.Context, platform, environment string) ([]model.Experiment, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableExperiments, "scope", platform, environment)
	if err != nil {
		return nil, err
	}

	var exps []model.Experiment
	for obj := it.Next(); obj != nil; obj = it.Next() {
		exps = append(exps, obj.(experimentRecord).Experiment)
	}
	return exps, nil
}

// DeleteExperiment removes an experiment. Ordinary deletion is limited to
// drafts; force is the admin override.
func (s *Store) DeleteExperiment(platform, environment, experimentKey string, force bool) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableExperiments, "id", platform, environment, experimentKey)
	if err != nil {
		return err
	}
	if raw == nil {
		return model.ErrExperimentNotFound
	}
	rec := raw.(experimentRecord)

	if rec.Experiment.Status != model.StatusDraft && !force {
		return fmt.Errorf("%s: only draft experiments may be deleted",
			model.InvalidTransitionErrorCode)
	}

	if err := txn.Delete(tableExperiments, rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
