// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	conf "github.com/bartek5186/billsync/internal/config"
	"github.com/bartek5186/billsync/internal/integrations"
	"github.com/bartek5186/billsync/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrAlreadyRunning – drugi RunOnce/Loop w tym samym procesie.
var ErrAlreadyRunning = errors.New("syncer: już działa")

type Syncer struct {
	log     zerolog.Logger    // logowanie
	deps    integrations.Deps // baza, checkpointy, zegar dla integracji
	mu      sync.Mutex        // ochrona sekcji krytycznych
	cfg     *conf.Config      // aktualna konfiguracja
	reload  ReloadFunc        // źródło świeżego configa dla Loop
	running bool              // czy syncer działa
	runs    uint64            // licznik przebiegów
}

func New(log zerolog.Logger, cfg *conf.Config, deps integrations.Deps) *Syncer {
	return &Syncer{log: log, cfg: cfg, deps: deps}
}

// Build tworzy integracje w zadanej kolejności (puste names = cfg.Enabled).
// Zwraca błędy wszystkich integracji naraz; błąd konfiguracji jest fatalny
// i nic nie zostaje uruchomione.
func (s *Syncer) Build(names ...string) ([]integrations.Integration, error) {
	out, err := s.build(s.config(), names)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int("count", len(out)).Msg("Integrations built")
	return out, nil
}

// Validate sprawdza konfigurację integracji bez ich uruchamiania.
// Factory nie robią I/O, więc można to zrobić przed otwarciem bazy.
func (s *Syncer) Validate(names ...string) error {
	_, err := s.build(s.config(), names)
	return err
}

func (s *Syncer) config() *conf.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Syncer) build(cfg *conf.Config, names []string) ([]integrations.Integration, error) {
	if len(names) == 0 && cfg != nil {
		names = cfg.Enabled
	}
	if len(names) == 0 {
		return nil, errors.New("syncer: brak integracji do uruchomienia")
	}

	var (
		out  []integrations.Integration
		errs []error
	)
	for _, name := range names {
		f, ok := integrations.Get(name)
		if !ok {
			errs = append(errs, fmt.Errorf("syncer: nieznana integracja %q (dostępne: %v)", name, integrations.Names()))
			continue
		}
		var raw []byte
		if cfg != nil {
			raw = cfg.Integrations[name]
		}
		inst, err := f(s.deps, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, inst)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Syncer) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	return nil
}

func (s *Syncer) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// RunOnce: jeden przebieg wszystkich integracji po kolei. Błąd jednej
// integracji jest logowany, a kolejna i tak rusza.
func (s *Syncer) RunOnce(ctx context.Context, names ...string) error {
	ints, err := s.Build(names...)
	if err != nil {
		return err
	}
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()
	return s.runAll(ctx, ints)
}

func (s *Syncer) runAll(ctx context.Context, ints []integrations.Integration) error {
	s.mu.Lock()
	s.runs++
	n := s.runs
	s.mu.Unlock()

	s.log.Info().Uint64("run", n).Msg("Syncer: start przebiegu")
	started := time.Now()

	var errs []error
	for _, in := range ints {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		l := s.log.With().Str("integration", in.Name()).Logger()
		l.Info().Msg("start")
		if err := in.Run(ctx); err != nil {
			l.Error().Err(err).Msg("zakończona z błędem")
			errs = append(errs, fmt.Errorf("%s: %w", in.Name(), err))
			continue
		}
		l.Info().Msg("ok")
	}

	s.log.Info().Uint64("run", n).Dur("took", time.Since(started)).Int("failed", len(errs)).Msg("Syncer: koniec przebiegu")
	if err := metrics.Flush(); err != nil {
		s.log.Warn().Err(err).Msg("Syncer: flush metryk")
	}
	return errors.Join(errs...)
}

// Loop: pierwszy przebieg od razu, potem co interval, do anulowania ctx.
// Przed każdym kolejnym przebiegiem config jest przeładowywany (SetReload).
// Błędy przebiegów są logowane; wraca nil po anulowaniu ctx.
func (s *Syncer) Loop(ctx context.Context, interval time.Duration, names ...string) error {
	if interval <= 0 {
		return s.RunOnce(ctx, names...)
	}
	ints, err := s.Build(names...)
	if err != nil {
		return err
	}
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	s.log.Info().Dur("interval", interval).Msg("Syncer: pętla start")
	_ = s.runAll(ctx, ints)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Syncer: koniec pętli")
			return nil
		case <-ticker.C:
			ints = s.reloaded(ints, names)
			_ = s.runAll(ctx, ints)
		}
	}
}

// ReloadFunc zwraca świeży config, np. ponownie wczytany config.json.
type ReloadFunc func() (*conf.Config, error)

func (s *Syncer) SetReload(f ReloadFunc) {
	s.mu.Lock()
	s.reload = f
	s.mu.Unlock()
}

// reloaded: nowy zestaw integracji z przeładowanego configa. Jeśli config
// się nie wczyta albo jest niepoprawny, zostaje poprzedni zestaw.
func (s *Syncer) reloaded(ints []integrations.Integration, names []string) []integrations.Integration {
	s.mu.Lock()
	reload := s.reload
	s.mu.Unlock()
	if reload == nil {
		return ints
	}

	cfg, err := reload()
	if err != nil {
		s.log.Error().Err(err).Msg("Syncer: błąd reloadu, zostaje poprzedni config")
		return ints
	}
	next, err := s.build(cfg, names)
	if err != nil {
		s.log.Error().Err(err).Msg("Syncer: nowy config odrzucony")
		return ints
	}
	s.UpdateConfig(cfg)
	return next
}

func (s *Syncer) UpdateConfig(cfg *conf.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.log.Info().Msg("Syncer: config zaktualizowany")
}

func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Syncer) Runs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}
