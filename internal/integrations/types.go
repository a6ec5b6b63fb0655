// internal/integrations/types.go
package integrations

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bartek5186/billsync/internal/checkpoint"
	"github.com/bartek5186/billsync/internal/integrations/fetch"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Integration – jedno źródło danych. Run robi pełny przebieg i wraca;
// pętlą w czasie zarządza syncer.
type Integration interface {
	Name() string
	Run(ctx context.Context) error
}

// Deps – wszystko, czego integracja potrzebuje od procesu.
type Deps struct {
	Log zerolog.Logger
	DB  *gorm.DB

	// Checkpoints zwraca magazyn checkpointu dla danego joba.
	Checkpoints func(job string) checkpoint.Store

	// Sleep – cooldowny retry; testy podmieniają na natychmiastowy.
	Sleep fetch.SleepFunc
	// Now – znacznik updated_at i okna czasowe.
	Now func() time.Time
	// Pace – czy stosować pauzy między stronami (w testach false).
	Pace bool
}

func (d Deps) Clock() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) Sleeper() fetch.SleepFunc {
	if d.Sleep != nil {
		return d.Sleep
	}
	return fetch.SleepContext
}

type Factory func(deps Deps, raw json.RawMessage) (Integration, error)
