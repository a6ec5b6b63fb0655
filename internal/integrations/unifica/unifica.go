// Package unifica synchronizuje cobranças z Unifica do raw_unifica,
// strona po stronie, z checkpointem pozwalającym wznowić przerwany przebieg.
package unifica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bartek5186/billsync/internal/checkpoint"
	conf "github.com/bartek5186/billsync/internal/config"
	"github.com/bartek5186/billsync/internal/db"
	"github.com/bartek5186/billsync/internal/integrations"
	"github.com/bartek5186/billsync/internal/integrations/fetch"
	"github.com/bartek5186/billsync/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	Name     = "unifica"
	Endpoint = "/operacao/cobrancas"

	// Origem – wartość origem_conta w raw_unifica
	Origem = "UNIFICA"
)

func init() {
	integrations.Register(Name, func(deps integrations.Deps, raw json.RawMessage) (integrations.Integration, error) {
		cfg, err := LoadConfig(raw)
		if err != nil {
			return nil, err
		}
		return New(deps, cfg), nil
	})
}

type Config struct {
	BaseURL        string `json:"base_url"`
	Token          string `json:"token,omitempty"`
	PerPage        int    `json:"per_page"`
	TimeoutSec     int    `json:"timeout_sec"`
	PageDelayMs    int    `json:"page_delay_ms"`
	TransportRetry bool   `json:"transport_retry"`
}

// LoadConfig: JSON z configa + UNIFICA_BASE_URL / UNIFICA_TOKEN ze środowiska.
func LoadConfig(raw json.RawMessage) (Config, error) {
	cfg := Config{PerPage: 50, TimeoutSec: 120, PageDelayMs: 500, TransportRetry: true}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("unifica: config: %w", err)
		}
	}
	cfg.BaseURL = strings.TrimRight(conf.Env("UNIFICA_BASE_URL", cfg.BaseURL), "/")
	cfg.Token = conf.Env("UNIFICA_TOKEN", cfg.Token)
	if cfg.PerPage <= 0 {
		cfg.PerPage = 50
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 120
	}

	err := conf.NewChecker(Name).
		Require("UNIFICA_BASE_URL", cfg.BaseURL).
		Require("UNIFICA_TOKEN", cfg.Token).
		Err()
	return cfg, err
}

type Unifica struct {
	cfg    Config
	deps   integrations.Deps
	log    zerolog.Logger
	client *http.Client
}

func New(deps integrations.Deps, cfg Config) *Unifica {
	log := deps.Log.With().Str("integration", Name).Logger()
	return &Unifica{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		client: fetch.NewClient(time.Duration(cfg.TimeoutSec)*time.Second, cfg.TransportRetry, log),
	}
}

func (u *Unifica) Name() string { return Name }

func (u *Unifica) pager(start int, onRetry func(string)) *fetch.Pager {
	p := &fetch.Pager{
		Req: &fetch.Requester{
			Client: u.client,
			Header: http.Header{
				"Authorization": {"Bearer " + u.cfg.Token},
				"Content-Type":  {"application/json"},
				"Accept":        {"*/*"},
			},
			Policy:  fetch.DefaultPolicy(),
			Sleep:   u.deps.Sleeper(),
			Log:     u.log,
			OnRetry: onRetry,
		},
		URL:       u.cfg.BaseURL + Endpoint,
		Query:     url.Values{"per_page": {strconv.Itoa(u.cfg.PerPage)}},
		StartPage: start,
	}
	if u.deps.Pace {
		p.Limiter = fetch.Every(time.Duration(u.cfg.PageDelayMs) * time.Millisecond)
	}
	return p
}

func (u *Unifica) checkpoints() checkpoint.Store {
	if u.deps.Checkpoints != nil {
		return u.deps.Checkpoints(Name)
	}
	return checkpoint.NewFile(Name + "_checkpoint.txt")
}

func (u *Unifica) Run(ctx context.Context) error {
	run := metrics.NewRun(Name)
	err := u.sync(ctx, run)
	run.Finish(u.log, err)
	return err
}

// ErrPartial – przebieg doszedł do końca, ale część stron nie zapisała się w bazie.
// Checkpoint zostaje na pierwszej takiej stronie.
var ErrPartial = errors.New("unifica: część stron nie została zapisana")

func (u *Unifica) sync(ctx context.Context, run *metrics.Run) error {
	if u.deps.DB == nil {
		return errors.New("unifica: brak połączenia z bazą")
	}
	// tabela mogła powstać w starszej wersji; AutoMigrate dokłada brakujące kolumny
	if err := u.deps.DB.WithContext(ctx).AutoMigrate(&db.RawUnifica{}); err != nil {
		return fmt.Errorf("unifica: migrate raw_unifica: %w", err)
	}

	cp := u.checkpoints()
	start := cp.Load(ctx)
	if start > checkpoint.FirstPage {
		u.log.Info().Int("page", start).Msg("checkpoint found, resuming")
	}
	u.log.Info().Int("start_page", start).Int("per_page", u.cfg.PerPage).Msg("sync start")

	var (
		total      int
		frozenAt   int // pierwsza strona, której nie udało się zapisać
		lastFailed error
	)

	for pg, err := range u.pager(start, run.Retry).Pages(ctx) {
		if err != nil {
			return fmt.Errorf("unifica: page %d: %w", pg.Number, err)
		}
		run.Page()

		rows, dropped := MapPage(pg.Records, u.deps.Clock())
		run.Dropped(dropped)
		if dropped > 0 {
			u.log.Debug().Int("page", pg.Number).Int("dropped", dropped).Msg("records without uc or full mes_referencia")
		}

		n, err := db.Upsert(ctx, u.deps.DB, rows, db.InvoiceKey)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			run.FailedBatch(len(rows))
			lastFailed = err
			if frozenAt == 0 {
				frozenAt = pg.Number
			}
			u.log.Error().Err(err).Int("page", pg.Number).Int("rows", len(rows)).Msg("page upsert failed, continuing")
			continue
		}
		run.Upserted(n)
		total += n

		if frozenAt == 0 {
			if err := cp.Save(ctx, pg.Number+1); err != nil {
				return fmt.Errorf("unifica: checkpoint save: %w", err)
			}
		}
		u.log.Info().Int("page", pg.Number).Int("rows", n).Int("total", total).Msg("page saved")
	}

	if frozenAt != 0 {
		u.log.Warn().Int("checkpoint", frozenAt).Msg("end of data, checkpoint kept at first failed page")
		return fmt.Errorf("%w (od strony %d): %w", ErrPartial, frozenAt, lastFailed)
	}
	if err := cp.Clear(ctx); err != nil {
		return fmt.Errorf("unifica: checkpoint clear: %w", err)
	}
	u.log.Info().Int("total", total).Msg("end of data, checkpoint cleared")
	return nil
}
