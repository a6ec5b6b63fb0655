// Package datadog – backend metryk wysyłający do Datadog API v2.
//
// Liczniki i próbki są buforowane w pamięci, wysyłane co FlushEvery
// i ostatni raz w Close(). Klucz API z DD_API_KEY (DD_SITE opcjonalnie).
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bartek5186/billsync/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

type Options struct {
	// JobName -> tag "job:<name>"; domyślnie "billsync".
	JobName string
	// Tags – dodatkowe tagi, np. "env:prod".
	Tags []string
	// FlushEvery – domyślnie 60s.
	FlushEvery time.Duration

	// seamy dla testów
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[string]float64   // name\x00tag,tag -> suma
	samples  map[string][]float64 // name\x00tag,tag -> próbki
}

// Enabled: czy w środowisku jest klucz API.
func Enabled() bool {
	return strings.TrimSpace(os.Getenv("DD_API_KEY")) != ""
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "billsync"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   map[string]float64{},
		samples:    map[string][]float64{},
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close zatrzymuje pętlę i robi ostatni Flush. Kolejne wywołania tylko flushują.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k := seriesKey(name, labels)
	b.mu.Lock()
	b.counters[k] += delta
	b.mu.Unlock()
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	k := seriesKey(name, labels)
	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

func (b *Backend) snapshotAndReset() (map[string]float64, map[string][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, s := b.counters, b.samples
	b.counters = map[string]float64{}
	b.samples = map[string][]float64{}
	return c, s
}

// Flush wysyła bufor; bufor jest zerowany także przy błędzie wysyłki.
func (b *Backend) Flush() error {
	counters, samples := b.snapshotAndReset()
	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(counters, samples, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

func (b *Backend) buildSeries(counters map[string]float64, samples map[string][]float64, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(counters)+4*len(samples))

	for _, k := range sortedKeys(counters) {
		name, tags := splitSeriesKey(k)
		series = append(series, point(ddName(name), datadogV2.METRICINTAKETYPE_COUNT, counters[k], withTags(b.baseTags, tags...), nowUnix))
	}

	for _, k := range sortedKeys(samples) {
		vals := append([]float64(nil), samples[k]...)
		if len(vals) == 0 {
			continue
		}
		sort.Float64s(vals)
		name, tags := splitSeriesKey(k)
		all := withTags(b.baseTags, tags...)
		prefix := ddName(name)
		series = append(series,
			point(prefix+".p50", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(vals, 0.50), all, nowUnix),
			point(prefix+".p95", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(vals, 0.95), all, nowUnix),
			point(prefix+".max", datadogV2.METRICINTAKETYPE_GAUGE, vals[len(vals)-1], all, nowUnix),
			point(prefix+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(vals)), all, nowUnix),
		)
	}
	return series
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

// billsync_pages_total -> billsync.pages.total
func ddName(name string) string {
	return strings.ReplaceAll(name, "_", ".")
}

// klucz serii: nazwa + posortowane tagi "k:v", żeby te same etykiety trafiały w jedną serię
func seriesKey(name string, labels metrics.Labels) string {
	tags := make([]string, 0, len(labels))
	for k, v := range labels {
		if v == "" {
			v = "unknown"
		}
		tags = append(tags, k+":"+v)
	}
	sort.Strings(tags)
	return name + "\x00" + strings.Join(tags, ",")
}

func splitSeriesKey(k string) (string, []string) {
	name, rest, _ := strings.Cut(k, "\x00")
	if rest == "" {
		return name, nil
	}
	return name, strings.Split(rest, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV: "env:prod,service:billsync" -> []string
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)
