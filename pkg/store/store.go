// Package store keeps flag, experiment and remote-config definitions in an
// indexed in-memory database. Flag versions are immutable: updates insert a
// new version and move the active marker, the enable toggle flips the active
// version in place.
package store

import (
	"github.com/hashicorp/go-memdb"

	"github.com/togglebox/togglebox/pkg/logger"
	"github.com/togglebox/togglebox/pkg/model"
)

const (
	tableFlags       = "flags"
	tableExperiments = "experiments"
	tableConfig      = "config"
)

// allocationEpsilon is the tolerance when checking that traffic percentages
// sum to 100 at the write boundary.
const allocationEpsilon = 1e-6

type flagRecord struct {
	Platform    string
	Environment string
	FlagKey     string
	Version     string
	Active      bool
	Flag        model.Flag
}

type experimentRecord struct {
	Platform      string
	Environment   string
	ExperimentKey string
	Experiment    model.Experiment
}

type configRecord struct {
	Platform    string
	Environment string
	Key         string
	Value       model.FlagValue
}

// Store is the definition database. All reads return copies; the memdb
// transaction layer makes concurrent access safe.
type Store struct {
	db  *memdb.MemDB
	log *logger.Logger
}

func scopedIndex(fields ...string) *memdb.CompoundIndex {
	indexes := make([]memdb.Indexer, 0, len(fields))
	for _, f := range fields {
		indexes = append(indexes, &memdb.StringFieldIndex{Field: f})
	}
	return &memdb.CompoundIndex{Indexes: indexes}
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableFlags: {
				Name: tableFlags,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: scopedIndex("Platform", "Environment", "FlagKey", "Version"),
					},
					"key": {
						Name:    "key",
						Indexer: scopedIndex("Platform", "Environment", "FlagKey"),
					},
					// non-unique: every inactive version shares the false key
					"active": {
						Name:    "active",
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Platform"},
								&memdb.StringFieldIndex{Field: "Environment"},
								&memdb.StringFieldIndex{Field: "FlagKey"},
								&memdb.ConditionalIndex{
									Conditional: func(obj interface{}) (bool, error) {
										return obj.(flagRecord).Active, nil
									},
								},
							},
						},
					},
					"scope": {
						Name:    "scope",
						Indexer: scopedIndex("Platform", "Environment"),
					},
				},
			},
			tableExperiments: {
				Name: tableExperiments,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: scopedIndex("Platform", "Environment", "ExperimentKey"),
					},
					"scope": {
						Name:    "scope",
						Indexer: scopedIndex("Platform", "Environment"),
					},
				},
			},
			tableConfig: {
				Name: tableConfig,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: scopedIndex("Platform", "Environment", "Key"),
					},
					"scope": {
						Name:    "scope",
						Indexer: scopedIndex("Platform", "Environment"),
					},
				},
			},
		},
	}
}

// New creates an empty store.
func New(log *logger.Logger) *Store {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		panic(err)
	}
	if log == nil {
		log = logger.New("store")
	}
	return &Store{db: db, log: log}
}
