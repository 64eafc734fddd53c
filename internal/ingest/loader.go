// Package ingest implements the local ingest loader named in §4.H: a
// startup step that seeds the Artifact Store with a small set of default
// artifacts, so the public HTTP surface has something to list before any
// caller uploads a game of their own.
//
// It is grounded on the same declarative-file-plus-fallback idiom as
// config.LoadPluginFile (§4.C): a missing or empty file is not an error,
// it just means no defaults are seeded.
package ingest

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"orchestrator/internal/artifact"
	"orchestrator/internal/logger"
	"orchestrator/internal/model"
)

// Entry is one default artifact as it appears in the ingest file.
type Entry struct {
	ID         string                 `yaml:"id"`
	FormatName string                 `yaml:"format_name"`
	Title      string                 `yaml:"title"`
	Players    []string               `yaml:"players"`
	Payload    map[string]interface{} `yaml:"payload"`
}

// File is the declarative shape of the default-artifacts file.
type File struct {
	Games []Entry `yaml:"games"`
}

// LoadDefaults reads path (if present) and adds every entry it names to
// store, assigning a fresh id via uuid when an entry omits one. A missing
// file seeds nothing and is not an error, matching the plugin config
// file's "missing file ⇒ no plugins" convention.
func LoadDefaults(store *artifact.Store, path string) (int, error) {
	log := logger.Component("ingest")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Debug().Str("path", path).Msg("no default artifacts file, skipping seed")
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read default artifacts %q", path)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, errors.Wrapf(err, "parse default artifacts %q", path)
	}

	for _, e := range file.Games {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		store.Add(model.Artifact{
			ID:         id,
			FormatName: e.FormatName,
			Title:      e.Title,
			Players:    e.Players,
			Payload:    e.Payload,
		})
	}

	log.Info().Int("count", len(file.Games)).Str("path", path).Msg("loaded default artifacts")
	return len(file.Games), nil
}
