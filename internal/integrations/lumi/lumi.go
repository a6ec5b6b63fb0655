// Package lumi synchronizuje faktury z platformy Lumi (wiele kont) do raw_lumi.
package lumi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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

const Name = "lumi"

// DefaultFields – pola, o które prosimy endpoint danych (parametr "campo").
var DefaultFields = []string{
	"uc", "nome", "mes_referencia", "consumo_total_faturado_qt", "valor_total_fatura", "drive_id",
	"payments.energia_compensada", "payments.economia", "payments.status_cobranca_asaas",
	"payments.vencimento", "payments.remuneracao_geracao", "payments.sent_at",
}

func init() {
	integrations.Register(Name, func(deps integrations.Deps, raw json.RawMessage) (integrations.Integration, error) {
		cfg, err := LoadConfig(raw)
		if err != nil {
			return nil, err
		}
		return New(deps, cfg), nil
	})
}

type Account struct {
	Name     string `json:"name"`
	EmailEnv string `json:"email_env,omitempty"`
	SenhaEnv string `json:"senha_env,omitempty"`
	Email    string `json:"email,omitempty"`
	Senha    string `json:"senha,omitempty"`
}

func (a Account) hasCredentials() bool {
	return a.Email != "" && a.Senha != ""
}

type Config struct {
	BaseURL     string    `json:"base_url"`
	Endpoint    string    `json:"endpoint"`
	TimeoutSec  int       `json:"timeout_sec"`
	Years       []int     `json:"years,omitempty"` // puste = bieżący rok
	Fields      []string  `json:"fields,omitempty"`
	Accounts    []Account `json:"accounts"`
	MaxAttempts int       `json:"max_attempts"`
}

func defaultAccounts() []Account {
	return []Account{
		{Name: "LUMI", EmailEnv: "LUMI_EMAIL", SenhaEnv: "LUMI_SENHA"},
		{Name: "LUMI_COOP", EmailEnv: "LUMI_COOP_EMAIL", SenhaEnv: "LUMI_COOP_SENHA"},
	}
}

// LoadConfig: JSON z configa, LUMI_BASE_URL / LUMI_ENDPOINT_DADOS i dane logowania kont ze środowiska.
func LoadConfig(raw json.RawMessage) (Config, error) {
	cfg := Config{Endpoint: "/faturas/dados", TimeoutSec: 120, MaxAttempts: 3}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("lumi: config: %w", err)
		}
	}
	cfg.BaseURL = strings.TrimRight(conf.Env("LUMI_BASE_URL", cfg.BaseURL), "/")
	cfg.Endpoint = conf.Env("LUMI_ENDPOINT_DADOS", cfg.Endpoint)
	if cfg.Endpoint != "" && !strings.HasPrefix(cfg.Endpoint, "/") {
		cfg.Endpoint = "/" + cfg.Endpoint
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 120
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields
	}
	if len(cfg.Accounts) == 0 {
		cfg.Accounts = defaultAccounts()
	}
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if a.EmailEnv != "" {
			a.Email = conf.Env(a.EmailEnv, a.Email)
		}
		if a.SenhaEnv != "" {
			a.Senha = conf.Env(a.SenhaEnv, a.Senha)
		}
	}

	err := conf.NewChecker(Name).
		Require("LUMI_BASE_URL", cfg.BaseURL).
		Require("LUMI_ENDPOINT_DADOS", cfg.Endpoint).
		Err()
	return cfg, err
}

// ErrLogin – konto nie dostało tokenu; pozostałe konta są synchronizowane dalej.
var ErrLogin = errors.New("lumi: login failed")

type Lumi struct {
	cfg    Config
	deps   integrations.Deps
	log    zerolog.Logger
	client *http.Client
}

func New(deps integrations.Deps, cfg Config) *Lumi {
	log := deps.Log.With().Str("integration", Name).Logger()
	return &Lumi{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		client: fetch.NewClient(time.Duration(cfg.TimeoutSec)*time.Second, false, log),
	}
}

func (l *Lumi) Name() string { return Name }

// Window – okno dat [Inicio, Fim] jednego zapytania.
type Window struct {
	Inicio string
	Fim    string
}

// Windows: jedno okno na rok kalendarzowy.
func (l *Lumi) Windows() []Window {
	years := l.cfg.Years
	if len(years) == 0 {
		years = []int{l.deps.Clock().Year()}
	}
	out := make([]Window, 0, len(years))
	for _, y := range years {
		ys := strconv.Itoa(y)
		out = append(out, Window{Inicio: ys + "-01-01", Fim: ys + "-12-31"})
	}
	return out
}

func (l *Lumi) Run(ctx context.Context) error {
	if l.deps.DB == nil {
		return errors.New("lumi: brak połączenia z bazą")
	}
	run := metrics.NewRun(Name)

	var errs []error
	for _, acc := range l.cfg.Accounts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		log := l.log.With().Str("account", acc.Name).Logger()
		if !acc.hasCredentials() {
			log.Warn().Msg("no credentials, skipping account")
			continue
		}
		if err := l.syncAccount(ctx, acc, run, log); err != nil {
			log.Error().Err(err).Msg("account sync failed")
			errs = append(errs, fmt.Errorf("lumi %s: %w", acc.Name, err))
		}
	}

	err := errors.Join(errs...)
	run.Finish(l.log, err)
	return err
}

func (l *Lumi) syncAccount(ctx context.Context, acc Account, run *metrics.Run, log zerolog.Logger) error {
	log.Info().Msg("logging in")
	token, err := l.Login(ctx, acc.Email, acc.Senha)
	if err != nil {
		return err
	}

	pol := fetch.DefaultPolicy()
	pol.MaxAttempts = l.cfg.MaxAttempts
	req := &fetch.Requester{
		Client: l.client,
		Header: http.Header{
			"Authorization": {"Bearer " + token},
			"Content-Type":  {"application/json"},
		},
		Policy:  pol,
		Sleep:   l.deps.Sleeper(),
		Log:     log,
		OnRetry: run.Retry,
	}

	var failed []error
	for _, w := range l.Windows() {
		wlog := log.With().Str("inicio", w.Inicio).Str("fim", w.Fim).Logger()
		q := url.Values{"inicio": {w.Inicio}, "fim": {w.Fim}, "campo": l.cfg.Fields}

		env, err := req.Get(ctx, l.cfg.BaseURL+l.cfg.Endpoint, q)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, fetch.ErrUnrecoverable) {
				return err
			}
			wlog.Error().Err(err).Msg("window fetch failed, skipping")
			failed = append(failed, err)
			continue
		}
		run.Page()
		if len(env.Records) == 0 {
			wlog.Info().Msg("no data in window")
			continue
		}

		rows, dropped := MapBatch(env.Records, acc.Name, l.deps.Clock())
		run.Dropped(dropped)
		n, err := db.Upsert(ctx, l.deps.DB, rows, db.InvoiceKey)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			run.FailedBatch(len(rows))
			wlog.Error().Err(err).Int("rows", len(rows)).Msg("batch upsert failed")
			failed = append(failed, err)
			continue
		}
		run.Upserted(n)
		wlog.Info().Int("rows", n).Int("dropped", dropped).Msg("batch saved")
	}
	return errors.Join(failed...)
}

type loginRequest struct {
	Email string `json:"email"`
	Senha string `json:"senha"`
}

// Login zwraca token JWT konta.
func (l *Lumi) Login(ctx context.Context, email, senha string) (string, error) {
	body, err := json.Marshal(loginRequest{Email: email, Senha: senha})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.BaseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLogin, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: %w", ErrLogin, &fetch.StatusError{Status: resp.StatusCode, URL: req.URL.Path})
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %w", ErrLogin, err)
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", fmt.Errorf("%w: empty token", ErrLogin)
	}
	return out.Token, nil
}
