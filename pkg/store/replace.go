package store

import (
	"context"
	"reflect"

	"github.com/togglebox/togglebox/pkg/model"
)

// Notification types emitted when a sync source replaces definitions.
const (
	NotificationCreate = "create"
	NotificationUpdate = "update"
	NotificationDelete = "delete"
)

// Replace swaps in the full definition set for an environment from a sync
// source: flags absent from the incoming set are deleted (all versions),
// present ones are created or re-versioned, experiments and config are
// replaced wholesale. Returns per-key notifications describing what changed.
func (s *Store) Replace(platform, environment string, flags []model.Flag, experiments []model.Experiment, config map[string]model.FlagValue) map[string]string {
	notifications := map[string]string{}
	ctx := context.Background()

	incoming := map[string]model.Flag{}
	for _, f := range flags {
		f.Platform = platform
		f.Environment = environment
		incoming[f.FlagKey] = f
	}

	stored, _ := s.ListFlags(ctx, platform, environment)
	for _, f := range stored {
		if _, ok := incoming[f.FlagKey]; !ok {
			if err := s.DeleteFlag(platform, environment, f.FlagKey); err == nil {
				notifications["flag/"+f.FlagKey] = NotificationDelete
			}
		}
	}

	for key, f := range incoming {
		current, err := s.GetFlag(ctx, platform, environment, key)
		if err != nil {
			if _, err := s.CreateFlag(f); err != nil {
				s.log.Errorf("sync: cannot create flag %s: %v", key, err)
				continue
			}
			notifications["flag/"+key] = NotificationCreate
			continue
		}

		// unchanged definitions must not mint a new version on every sync
		current.Version = ""
		if reflect.DeepEqual(current, f) {
			continue
		}
		if _, err := s.UpdateFlag(f); err != nil {
			s.log.Errorf("sync: cannot update flag %s: %v", key, err)
			continue
		}
		notifications["flag/"+key] = NotificationUpdate
	}

	incomingExps := map[string]model.Experiment{}
	for _, e := range experiments {
		e.Platform = platform
		e.Environment = environment
		incomingExps[e.ExperimentKey] = e
	}

	storedExps, _ := s.ListExperiments(ctx, platform, environment)
	for _, e := range storedExps {
		if _, ok := incomingExps[e.ExperimentKey]; !ok {
			if err := s.DeleteExperiment(platform, environment, e.ExperimentKey, true); err == nil {
				notifications["experiment/"+e.ExperimentKey] = NotificationDelete
			}
		}
	}

	for key, e := range incomingExps {
		if err := s.replaceExperiment(e); err != nil {
			s.log.Errorf("sync: cannot replace experiment %s: %v", key, err)
			continue
		}
		notifications["experiment/"+key] = NotificationUpdate
	}

	storedCfg, _ := s.ListConfig(ctx, platform, environment)
	for key := range storedCfg {
		if _, ok := config[key]; !ok {
			if err := s.DeleteConfig(platform, environment, key); err == nil {
				notifications["config/"+key] = NotificationDelete
			}
		}
	}
	for key, value := range config {
		if err := s.SetConfig(platform, environment, key, value); err != nil {
			s.log.Errorf("sync: cannot set config %s: %v", key, err)
			continue
		}
		notifications["config/"+key] = NotificationUpdate
	}

	return notifications
}

// replaceExperiment installs a synced experiment definition as-is, bypassing
// the draft-only edit rule but still validating the definition. Sync sources
// are trusted the way the admin override is.
func (s *Store) replaceExperiment(exp model.Experiment) error {
	if err := validateExperiment(exp); err != nil {
		return err
	}
	if exp.Status == "" {
		exp.Status = model.StatusDraft
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(tableExperiments, experimentRecord{
		Platform:      exp.Platform,
		Environment:   exp.Environment,
		ExperimentKey: exp.ExperimentKey,
		Experiment:    exp,
	}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
