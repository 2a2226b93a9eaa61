package store

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/togglebox/togglebox/pkg/model"
)

func validateFlag(flag model.Flag) error {
	if flag.Platform == "" || flag.Environment == "" || flag.FlagKey == "" {
		return fmt.Errorf("%s: flag identity requires platform, environment and flagKey",
			model.ValidationErrorCode)
	}
	if !flag.DefaultValue.Valid() {
		return fmt.Errorf("%s: defaultValue must be %q or %q",
			model.ValidationErrorCode, model.ServeA, model.ServeB)
	}
	switch flag.FlagType {
	case model.FlagTypeBoolean, model.FlagTypeString, model.FlagTypeNumber, model.FlagTypeJSON:
	default:
		return fmt.Errorf("%s: unknown flagType %q", model.ValidationErrorCode, flag.FlagType)
	}
	if !flag.ValueA.MatchesType(flag.FlagType) || !flag.ValueB.MatchesType(flag.FlagType) {
		return fmt.Errorf("%s: flag values do not match flagType %q",
			model.TypeMismatchErrorCode, flag.FlagType)
	}
	if flag.RolloutPercentageA < 0 || flag.RolloutPercentageA > 100 ||
		flag.RolloutPercentageB < 0 || flag.RolloutPercentageB > 100 {
		return fmt.Errorf("%s: rollout percentages must be within [0,100]",
			model.ValidationErrorCode)
	}
	return nil
}

func (s *Store) nextFlagVersion(txn *memdb.Txn, platform, environment, flagKey string) (string, error) {
	it, err := txn.Get(tableFlags, "key", platform, environment, flagKey)
	if err != nil {
		return "", err
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return fmt.Sprintf("v%d", n+1), nil
}

// CreateFlag inserts the first version of a flag and marks it active.
func (s *Store) CreateFlag(flag model.Flag) (model.Flag, error) {
	if err := validateFlag(flag); err != nil {
		return model.Flag{}, err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableFlags, "key", flag.Platform, flag.Environment, flag.FlagKey)
	if err != nil {
		return model.Flag{}, err
	}
	if existing != nil {
		return model.Flag{}, fmt.Errorf("%s: flag %s already exists",
			model.ValidationErrorCode, flag.FlagKey)
	}

	flag.Version = "v1"
	if err := txn.Insert(tableFlags, flagRecord{
		Platform:    flag.Platform,
		Environment: flag.Environment,
		FlagKey:     flag.FlagKey,
		Version:     flag.Version,
		Active:      true,
		Flag:        flag,
	}); err != nil {
		return model.Flag{}, err
	}
	txn.Commit()

	s.log.Debugf("created flag %s/%s/%s %s", flag.Platform, flag.Environment, flag.FlagKey, flag.Version)
	return flag, nil
}

// UpdateFlag creates a new immutable version of an existing flag and makes it
// the served version. Earlier versions are retained.
func (s *Store) UpdateFlag(flag model.Flag) (model.Flag, error) {
	if err := validateFlag(flag); err != nil {
		return model.Flag{}, err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableFlags, "active", flag.Platform, flag.Environment, flag.FlagKey, true)
	if err != nil {
		return model.Flag{}, err
	}
	if raw == nil {
		return model.Flag{}, model.ErrFlagNotFound
	}
	current := raw.(flagRecord)

	version, err := s.nextFlagVersion(txn, flag.Platform, flag.Environment, flag.FlagKey)
	if err != nil {
		return model.Flag{}, err
	}

	current.Active = false
	if err := txn.Insert(tableFlags, current); err != nil {
		return model.Flag{}, err
	}

	flag.Version = version
	if err := txn.Insert(tableFlags, flagRecord{
		Platform:    flag.Platform,
		Environment: flag.Environment,
		FlagKey:     flag.FlagKey,
		Version:     version,
		Active:      true,
		Flag:        flag,
	}); err != nil {
		return model.Flag{}, err
	}
	txn.Commit()

	s.log.Debugf("updated flag %s to %s", flag.FlagKey, version)
	return flag, nil
}

// SetFlagEnabled flips the kill switch on the active version in place; no new
// version is created.
func (s *Store) SetFlagEnabled(platform, environment, flagKey string, enabled bool) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableFlags, "active", platform, environment, flagKey, true)
	if err != nil {
		return err
	}
	if raw == nil {
		return model.ErrFlagNotFound
	}

	rec := raw.(flagRecord)
	rec.Flag.Enabled = enabled
	if err := txn.Insert(tableFlags, rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// GetFlag returns the active version of a flag.
func (s *Store) GetFlag(_ context.Context, platform, environment, flagKey string) (model.Flag, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableFlags, "active", platform, environment, flagKey, true)
	if err != nil {
		return model.Flag{}, err
	}
	if raw == nil {
		return model.Flag{}, model.ErrFlagNotFound
	}
	return raw.(flagRecord).Flag, nil
}

// GetFlagVersion returns a specific stored version.
func (s *Store) GetFlagVersion(platform, environment, flagKey, version string) (model.Flag, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableFlags, "id", platform, environment, flagKey, version)
	if err != nil {
		return model.Flag{}, err
	}
	if raw == nil {
		return model.Flag{}, model.ErrFlagNotFound
	}
	return raw.(flagRecord).Flag, nil
}

// ListFlags returns the active versions of all flags in an environment.
func (s *Store) ListFlags(_ context.Context, platform, environment string) ([]model.Flag, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableFlags, "scope", platform, environment)
	if err != nil {
		return nil, err
	}

	var flags []model.Flag
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rec := obj.(flagRecord)
		if rec.Active {
			flags = append(flags, rec.Flag)
		}
	}
	return flags, nil
}

// DeleteFlag removes a flag and all of its versions.
func (s *Store) DeleteFlag(platform, environment, flagKey string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	n, err := txn.DeleteAll(tableFlags, "key", platform, environment, flagKey)
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrFlagNotFound
	}
	txn.Commit()

	s.log.Debugf("deleted flag %s with %d versions", flagKey, n)
	return nil
}
