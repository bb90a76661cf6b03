// Package catalog loads the place and achievement catalog and seeds it into storage.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"place-bot/internal/storage"
)

//go:embed default.yaml
var defaultCatalog []byte

type Place struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Address     string  `yaml:"address"`
	District    string  `yaml:"district"`
	Category    string  `yaml:"category"`
	Latitude    float64 `yaml:"lat"`
	Longitude   float64 `yaml:"lon"`
	Image       string  `yaml:"image"`
}

type Achievement struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
	Kind        string `yaml:"kind"`
	Threshold   int    `yaml:"threshold"`
	Scope       string `yaml:"scope,omitempty"`
}

type Catalog struct {
	Places       []Place       `yaml:"places"`
	Achievements []Achievement `yaml:"achievements"`
}

var kinds = map[string]bool{
	string(storage.KindFirstVisit):       true,
	string(storage.KindPlacesVisited):    true,
	string(storage.KindCategoryExplorer): true,
	string(storage.KindDistrictExplorer): true,
	string(storage.KindReminderMaster):   true,
	string(storage.KindQuizCompleted):    true,
}

// Load reads the catalog at path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading catalog: %w", err)
		}
		data = b
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) Validate() error {
	var errs []error
	for i, p := range c.Places {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("place #%d has no name", i+1))
		}
	}
	codes := map[string]bool{}
	for _, a := range c.Achievements {
		switch {
		case a.Code == "":
			errs = append(errs, fmt.Errorf("achievement %q has no code", a.Name))
		case codes[a.Code]:
			errs = append(errs, fmt.Errorf("achievement code %q repeats", a.Code))
		}
		codes[a.Code] = true
		if !kinds[a.Kind] {
			errs = append(errs, fmt.Errorf("achievement %q: unknown kind %q", a.Code, a.Kind))
		}
		if a.Threshold < 1 {
			errs = append(errs, fmt.Errorf("achievement %q: threshold must be positive", a.Code))
		}
		if a.Scope != "" && a.Scope != storage.ScopeSession && a.Scope != storage.ScopeCumulative {
			errs = append(errs, fmt.Errorf("achievement %q: unknown scope %q", a.Code, a.Scope))
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) StoragePlaces() []storage.Place {
	out := make([]storage.Place, 0, len(c.Places))
	for _, p := range c.Places {
		out = append(out, storage.Place{
			Name:        p.Name,
			Description: p.Description,
			Address:     p.Address,
			District:    p.District,
			Category:    p.Category,
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			Image:       p.Image,
		})
	}
	return out
}

func (c *Catalog) StorageAchievements() []storage.Achievement {
	out := make([]storage.Achievement, 0, len(c.Achievements))
	for _, a := range c.Achievements {
		out = append(out, storage.Achievement{
			Code:        a.Code,
			Name:        a.Name,
			Description: a.Description,
			Icon:        a.Icon,
			Kind:        storage.AchievementKind(a.Kind),
			Threshold:   a.Threshold,
			Scope:       a.Scope,
		})
	}
	return out
}

type SeedStore interface {
	CountPlaces(ctx context.Context, f storage.PlaceFilter) (int, error)
	InsertPlaces(ctx context.Context, places []storage.Place) error
	UpsertAchievements(ctx context.Context, rules []storage.Achievement) error
}

// Seed inserts places only into an empty store and always refreshes achievement rules.
func Seed(ctx context.Context, s SeedStore, c *Catalog, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	n, err := s.CountPlaces(ctx, storage.PlaceFilter{})
	if err != nil {
		return fmt.Errorf("count places: %w", err)
	}
	if n == 0 && len(c.Places) > 0 {
		if err := s.InsertPlaces(ctx, c.StoragePlaces()); err != nil {
			return fmt.Errorf("seed places: %w", err)
		}
		log.Info("catalog places seeded", zap.Int("count", len(c.Places)))
	} else {
		log.Debug("places already present, skipping", zap.Int("count", n))
	}
	if err := s.UpsertAchievements(ctx, c.StorageAchievements()); err != nil {
		return fmt.Errorf("seed achievements: %w", err)
	}
	return nil
}
