package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/chattrain/chattrain/internal/domain"
)

// Document is one reference file bound to a scenario, ready to be fed
// into the document index.
type Document struct {
	ScenarioID string
	Name       string
	Text       string
}

// Store holds the validated scenario set. Read-only after Load;
// malformed files fail at load time, never at use time.
type Store struct {
	byID      map[string]*domain.ScenarioConfig
	ordered   []*domain.ScenarioConfig
	documents []Document
}

// Load reads every *.yaml scenario under dir, validates it into a
// strict structure, and loads the referenced documents.
func Load(dir string) (*Store, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan scenario dir: %w", err)
	}
	sort.Strings(paths)

	validate := validator.New()
	store := &Store{byID: make(map[string]*domain.ScenarioConfig)}

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
		}

		var cfg domain.ScenarioConfig
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse scenario %s: %w", path, err)
		}
		applyDefaults(&cfg)
		if err := validate.Struct(&cfg); err != nil {
			return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
		}
		if _, dup := store.byID[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate scenario id %q in %s", cfg.ID, path)
		}

		for _, docName := range cfg.Documents {
			text, err := os.ReadFile(filepath.Join(dir, docName))
			if err != nil {
				return nil, fmt.Errorf("scenario %s references missing document %s: %w", cfg.ID, docName, err)
			}
			store.documents = append(store.documents, Document{
				ScenarioID: cfg.ID,
				Name:       docName,
				Text:       string(text),
			})
		}

		store.byID[cfg.ID] = &cfg
		store.ordered = append(store.ordered, &cfg)
		log.Info().Str("scenario_id", cfg.ID).Str("title", cfg.Title).Msg("loaded scenario")
	}

	return store, nil
}

func applyDefaults(cfg *domain.ScenarioConfig) {
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 200
	}
	if cfg.Completion.MinExchanges == 0 {
		cfg.Completion.MinExchanges = 5
	}
}

// Get returns a scenario by id
func (s *Store) Get(id string) (*domain.ScenarioConfig, error) {
	cfg, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown scenario: %s", id)
	}
	return cfg, nil
}

// List returns all scenarios in file order
func (s *Store) List() []*domain.ScenarioConfig {
	return s.ordered
}

// Documents returns every loaded reference document
func (s *Store) Documents() []Document {
	return s.documents
}
