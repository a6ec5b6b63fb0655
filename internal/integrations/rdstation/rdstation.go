// Package rdstation synchronizuje negócios z RD Station CRM do raw_rd_station.
package rdstation

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

	conf "github.com/bartek5186/billsync/internal/config"
	"github.com/bartek5186/billsync/internal/db"
	"github.com/bartek5186/billsync/internal/integrations"
	"github.com/bartek5186/billsync/internal/integrations/fetch"
	"github.com/bartek5186/billsync/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	Name           = "rdstation"
	DefaultBaseURL = "https://crm.rdstation.com/api/v1"
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
	Limit          int    `json:"limit"`
	PageDelayMs    int    `json:"page_delay_ms"`
	TimeoutSec     int    `json:"timeout_sec"`
	TransportRetry bool   `json:"transport_retry"`
}

// LoadConfig: JSON z configa + RD_TOKEN (i opcjonalnie RD_BASE_URL) ze środowiska.
func LoadConfig(raw json.RawMessage) (Config, error) {
	cfg := Config{BaseURL: DefaultBaseURL, Limit: 200, PageDelayMs: 200, TimeoutSec: 60, TransportRetry: true}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("rdstation: config: %w", err)
		}
	}
	cfg.BaseURL = strings.TrimRight(conf.Env("RD_BASE_URL", cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.Token = conf.Env("RD_TOKEN", cfg.Token)
	if cfg.Limit <= 0 || cfg.Limit > 200 {
		cfg.Limit = 200
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 60
	}
	return cfg, conf.NewChecker(Name).Require("RD_TOKEN", cfg.Token).Err()
}

type RDStation struct {
	cfg    Config
	deps   integrations.Deps
	log    zerolog.Logger
	client *http.Client
}

func New(deps integrations.Deps, cfg Config) *RDStation {
	log := deps.Log.With().Str("integration", Name).Logger()
	return &RDStation{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		client: fetch.NewClient(time.Duration(cfg.TimeoutSec)*time.Second, cfg.TransportRetry, log),
	}
}

func (r *RDStation) Name() string { return Name }

func (r *RDStation) requester(onRetry func(string)) *fetch.Requester {
	return &fetch.Requester{
		Client:  r.client,
		Header:  http.Header{"Accept": {"application/json"}},
		Policy:  fetch.DefaultPolicy(),
		Sleep:   r.deps.Sleeper(),
		Log:     r.log,
		OnRetry: onRetry,
	}
}

// Objectives pobiera lejki raz na przebieg. Błąd nie przerywa synca:
// negócios dostaną pusty objetivo_etapa.
func (r *RDStation) Objectives(ctx context.Context) Objectives {
	req := r.requester(nil)
	req.Policy.MaxAttempts = 3
	env, err := req.Get(ctx, r.cfg.BaseURL+"/deal_pipelines", url.Values{"token": {r.cfg.Token}})
	if err != nil {
		r.log.Warn().Err(err).Msg("deal_pipelines unavailable, stage objectives left empty")
		return Objectives{}
	}
	obj := BuildObjectives(env.Records)
	r.log.Info().Int("stages", len(obj)).Msg("stage objectives loaded")
	return obj
}

func (r *RDStation) Run(ctx context.Context) error {
	run := metrics.NewRun(Name)
	err := r.sync(ctx, run)
	run.Finish(r.log, err)
	return err
}

func (r *RDStation) sync(ctx context.Context, run *metrics.Run) error {
	if r.deps.DB == nil {
		return errors.New("rdstation: brak połączenia z bazą")
	}
	objectives := r.Objectives(ctx)

	p := &fetch.Pager{
		Req: r.requester(run.Retry),
		URL: r.cfg.BaseURL + "/deals",
		Query: url.Values{
			"token":     {r.cfg.Token},
			"limit":     {strconv.Itoa(r.cfg.Limit)},
			"sort":      {"updated_at"},
			"direction": {"desc"},
		},
	}
	if r.deps.Pace {
		p.Limiter = fetch.Every(time.Duration(r.cfg.PageDelayMs) * time.Millisecond)
	}

	var (
		total  int
		failed []error
	)
	for pg, err := range p.Pages(ctx) {
		if err != nil {
			return fmt.Errorf("rdstation: page %d: %w", pg.Number, err)
		}
		run.Page()

		rows, dropped := MapPage(pg.Records, objectives, r.deps.Clock())
		run.Dropped(dropped)

		n, err := db.Upsert(ctx, r.deps.DB, rows, db.DealKey)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			run.FailedBatch(len(rows))
			failed = append(failed, fmt.Errorf("page %d: %w", pg.Number, err))
			r.log.Error().Err(err).Int("page", pg.Number).Msg("page upsert failed, continuing")
			continue
		}
		run.Upserted(n)
		total += n
		r.log.Info().Int("page", pg.Number).Int("deals", n).Int("dropped", dropped).Int("total", total).Msg("page saved")
	}
	return errors.Join(failed...)
}
