package extract

import (
	"slices"
	"time"

	"github.com/koustreak/pgextract/internal/schema"
)

// DefaultConcurrency bounds concurrent object inspections when Options
// leaves it unset.
const DefaultConcurrency = 4

// Options controls one extraction pass.
type Options struct {
	// Schemas to extract. Empty means every non-system schema.
	Schemas []string `yaml:"schemas"`

	// Kinds limits extraction to these object kinds. Empty means all.
	Kinds []schema.Kind `yaml:"kinds"`

	// ResolveViews copies key and nullability metadata from the terminal
	// columns of view lineage onto view columns.
	ResolveViews bool `yaml:"resolve_views"`

	// Concurrency bounds the number of objects inspected at once.
	Concurrency int `yaml:"concurrency"`

	// Progress callbacks. OnProgress may be called from several goroutines
	// but never concurrently.
	OnProgressStart func(total int) `yaml:"-"`
	OnProgress      func()          `yaml:"-"`
	OnProgressEnd   func()          `yaml:"-"`
}

func (o Options) wants(kind schema.Kind) bool {
	return len(o.Kinds) == 0 || slices.Contains(o.Kinds, kind)
}

func (o Options) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return DefaultConcurrency
}

// Result is the output of one extraction pass.
type Result struct {
	RunID      string                    `json:"run_id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Schemas    map[string]*schema.Schema `json:"schemas"`
}
