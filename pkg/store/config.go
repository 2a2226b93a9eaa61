package store

import (
	"context"
	"fmt"

	"github.com/togglebox/togglebox/pkg/model"
)

// Tier 1 remote config: environment-wide key/value settings with no
// per-user targeting.

// SetConfig creates or replaces a config entry.
func (s *Store) SetConfig(platform, environment, key string, value model.FlagValue) error {
	if platform == "" || environment == "" || key == "" {
		return fmt.Errorf("%s: config identity requires platform, environment and key",
			model.ValidationErrorCode)
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(tableConfig, configRecord{
		Platform:    platform,
		Environment: environment,
		Key:         key,
		Value:       value,
	}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// GetConfig returns a config value.
func (s *Store) GetConfig(_ context.Context, platform, environment, key string) (model.FlagValue, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableConfig, "id", platform, environment, key)
	if err != nil {
		return model.FlagValue{}, err
	}
	if raw == nil {
		return model.FlagValue{}, model.ErrConfigNotFound
	}
	return raw.(configRecord).Value, nil
}

// ListConfig returns all config entries in an environment.
func (s *Store) ListConfig(_ context.Context, platform, environment string) (map[string]model.FlagValue, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableConfig, "scope", platform, environment)
	if err != nil {
		return nil, err
	}

	out := map[string]model.FlagValue{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rec := obj.(configRecord)
		out[rec.Key] = rec.Value
	}
	return out, nil
}

// DeleteConfig removes a config entry.
func (s *Store) DeleteConfig(platform, environment, key string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableConfig, "id", platform, environment, key)
	if err != nil {
		return err
	}
	if raw == nil {
		return model.ErrConfigNotFound
	}
	if err := txn.Delete(tableConfig, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
