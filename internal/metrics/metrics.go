// Package metrics trzyma liczniki przebiegów synchronizacji.
// Domyślnie backend to nop; cmd podmienia go przez SetBackend.
package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Labels map[string]string

type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher – backend, który buforuje i wysyła partiami.
type Flusher interface {
	Flush() error
}

const (
	PagesTotal     = "billsync_pages_total"
	RowsTotal      = "billsync_rows_total"
	RetriesTotal   = "billsync_retries_total"
	RunsTotal      = "billsync_runs_total"
	RunDurationSec = "billsync_run_duration_seconds"
)

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nop{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush wysyła bufor, jeśli backend buforuje; dla nop nic nie robi.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Run zlicza jeden przebieg integracji: lokalnie (do podsumowania w logu)
// i równolegle w backendzie.
type Run struct {
	Integration string
	started     time.Time

	mu       sync.Mutex
	pages    int
	upserted int
	dropped  int
	failed   int
	retries  map[string]int
}

func NewRun(integration string) *Run {
	return &Run{Integration: integration, started: time.Now(), retries: map[string]int{}}
}

func (r *Run) Page() {
	r.mu.Lock()
	r.pages++
	r.mu.Unlock()
	IncCounter(PagesTotal, 1, Labels{"integration": r.Integration})
}

func (r *Run) Upserted(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.upserted += n
	r.mu.Unlock()
	IncCounter(RowsTotal, float64(n), Labels{"integration": r.Integration, "kind": "upserted"})
}

func (r *Run) Dropped(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.dropped += n
	r.mu.Unlock()
	IncCounter(RowsTotal, float64(n), Labels{"integration": r.Integration, "kind": "dropped"})
}

// FailedBatch – partia, której upsert się nie udał.
func (r *Run) FailedBatch(n int) {
	r.mu.Lock()
	r.failed += n
	r.mu.Unlock()
	IncCounter(RowsTotal, float64(n), Labels{"integration": r.Integration, "kind": "failed"})
}

func (r *Run) Retry(reason string) {
	r.mu.Lock()
	r.retries[reason]++
	r.mu.Unlock()
	IncCounter(RetriesTotal, 1, Labels{"integration": r.Integration, "reason": reason})
}

type Summary struct {
	Pages    int
	Upserted int
	Dropped  int
	Failed   int
	Retries  int
}

func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{Pages: r.pages, Upserted: r.upserted, Dropped: r.dropped, Failed: r.failed}
	for _, n := range r.retries {
		s.Retries += n
	}
	return s
}

// Finish zamyka przebieg: licznik runów, czas trwania i linia podsumowania w logu.
func (r *Run) Finish(log zerolog.Logger, err error) Summary {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"integration": r.Integration, "status": status}
	IncCounter(RunsTotal, 1, l)
	ObserveHistogram(RunDurationSec, time.Since(r.started).Seconds(), l)

	s := r.Summary()
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Int("pages", s.Pages).
		Int("upserted", s.Upserted).
		Int("dropped", s.Dropped).
		Int("failed", s.Failed).
		Int("retries", s.Retries).
		Dur("took", time.Since(r.started)).
		Msg("sync finished")
	return s
}
