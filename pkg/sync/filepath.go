// Package sync loads flag, experiment and config definitions from a JSON
// document on disk, validates them against a schema, and watches the file so
// edits are picked up without a restart.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/xeipuuv/gojsonschema"

	"github.com/togglebox/togglebox/pkg/logger"
	"github.com/togglebox/togglebox/pkg/model"
	"github.com/togglebox/togglebox/pkg/store"
)

// Document is the on-disk definition format.
type Document struct {
	Platform    string                     `json:"platform"`
	Environment string                     `json:"environment"`
	Flags       []model.Flag               `json:"flags,omitempty"`
	Experiments []model.Experiment         `json:"experiments,omitempty"`
	Config      map[string]model.FlagValue `json:"config,omitempty"`
}

// FilepathProvider syncs a definitions file into the store.
type FilepathProvider struct {
	URI   string
	Store *Target
	log   *logger.Logger
}

// Target is the slice of the store the provider writes to.
type Target struct {
	store *store.Store
}

func NewTarget(s *store.Store) *Target {
	return &Target{store: s}
}

// NewFilepathProvider returns a provider reading from the given path.
func NewFilepathProvider(uri string, target *Target) *FilepathProvider {
	return &FilepathProvider{
		URI:   uri,
		Store: target,
		log:   logger.New("sync").WithField("uri", uri),
	}
}

// Init loads the file once and starts the watcher. The watcher stops when the
// context is cancelled.
func (fp *FilepathProvider) Init(ctx context.Context) error {
	doc, err := fp.parse()
	if err != nil {
		return err
	}
	fp.apply(doc)

	go fp.watch(ctx)
	return nil
}

func (fp *FilepathProvider) watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fp.log.Errorf("cannot create watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(fp.URI); err != nil {
		fp.log.Errorf("cannot watch definitions file: %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			doc, err := fp.parse()
			if err != nil {
				// editors occasionally emit a write event mid-save; keep
				// serving the previous definitions
				fp.log.Errorf("ignoring definitions update: %v", err)
				continue
			}
			fp.apply(doc)
			fp.log.Info("definitions updated")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fp.log.Errorf("watch error: %v", err)
		}
	}
}

func (fp *FilepathProvider) parse() (Document, error) {
	var doc Document
	if fp.URI == "" {
		return doc, errors.New("no definitions filepath set")
	}

	raw, err := os.ReadFile(fp.URI)
	if err != nil {
		return doc, fmt.Errorf("reading definitions file: %w", err)
	}

	if err := Validate(raw); err != nil {
		return doc, err
	}

	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("%s: %w", model.ParseErrorCode, err)
	}
	return doc, nil
}

func (fp *FilepathProvider) apply(doc Document) {
	notifications := fp.Store.store.Replace(doc.Platform, doc.Environment,
		doc.Flags, doc.Experiments, doc.Config)
	for key, change := range notifications {
		fp.log.Debugf("%s %s", change, key)
	}
}

// Validate checks a raw definitions document against the embedded schema.
func Validate(raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionsSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", model.ParseErrorCode, err)
	}
	if !result.Valid() {
		msgs := ""
		for _, desc := range result.Errors() {
			msgs += "; " + desc.String()
		}
		return fmt.Errorf("%s: invalid definitions document%s", model.ParseErrorCode, msgs)
	}
	return nil
}
