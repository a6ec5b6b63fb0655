package rdstation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bartek5186/billsync/internal/db"
	"github.com/bartek5186/billsync/internal/integrations"
	"github.com/bartek5186/billsync/internal/integrations/fetch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func deal(id int, uc, stage string) map[string]any {
	d := map[string]any{
		"id":         id,
		"name":       fmt.Sprintf("Negócio %d", id),
		"closed_at":  "2024-03-05T14:00:00.000-03:00",
		"deal_stage": map[string]any{"id": stage, "name": "Etapa " + stage},
	}
	if uc != "" {
		d["deal_custom_fields"] = []any{
			map[string]any{"custom_field": map[string]any{"label": "Unidade Consumidora"}, "value": uc},
			map[string]any{"custom_field": map[string]any{"label": "Distribuidora"}, "value": "CEMIG"},
		}
	}
	return d
}

type fakeCRM struct {
	t         *testing.T
	pipelines any
	pages     [][]map[string]any

	mu   sync.Mutex
	hits map[int]int
}

func (f *fakeCRM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assert.Equal(f.t, "rd-secret", q.Get("token"))

	switch r.URL.Path {
	case "/deal_pipelines":
		if f.pipelines == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(f.pipelines)
	case "/deals":
		assert.Equal(f.t, "200", q.Get("limit"))
		assert.Equal(f.t, "updated_at", q.Get("sort"))
		assert.Equal(f.t, "desc", q.Get("direction"))
		page, _ := strconv.Atoi(q.Get("page"))
		f.mu.Lock()
		if f.hits == nil {
			f.hits = map[int]int{}
		}
		f.hits[page]++
		f.mu.Unlock()

		body := map[string]any{"deals": []any{}, "has_more": false}
		if page >= 1 && page <= len(f.pages) {
			body["deals"] = f.pages[page-1]
			body["has_more"] = page < len(f.pages)
		}
		_ = json.NewEncoder(w).Encode(body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newRD(t *testing.T, f *fakeCRM) (*RDStation, *gorm.DB) {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	h, err := db.Open(db.KindSQLitePure, ":memory:")
	require.NoError(t, err)
	require.NoError(t, h.Migrate())
	t.Cleanup(func() { _ = h.Close() })

	deps := integrations.Deps{
		Log:   zerolog.Nop(),
		DB:    h.DB,
		Sleep: func(ctx context.Context, d time.Duration) error { return ctx.Err() },
		Now:   func() time.Time { return fixedNow },
	}
	return New(deps, Config{BaseURL: srv.URL, Token: "rd-secret", Limit: 200, TimeoutSec: 5}), h.DB
}

func TestRun_PagesUntilHasMoreFalse(t *testing.T) {
	f := &fakeCRM{
		pipelines: []any{
			map[string]any{"id": "p1", "deal_stages": []any{
				map[string]any{"id": "s1", "objective": "Assinatura"},
				map[string]any{"id": "s2", "objective": "Protocolo"},
			}},
		},
		pages: [][]map[string]any{
			{deal(1, "123.456-7", "s1"), deal(2, "", "s1")},
			{deal(3, "765 4321", "s2"), deal(1, "1234567", "s2")},
		},
	}
	rd, gdb := newRD(t, f)

	require.NoError(t, rd.Run(context.Background()))
	assert.Equal(t, 0, f.hits[3], "has_more=false stops paging")

	var rows []db.RawRDStation
	require.NoError(t, gdb.Order("id_negocio").Find(&rows).Error)
	require.Len(t, rows, 2, "deal without uc dropped, deal 1 upserted twice")

	assert.EqualValues(t, 1, rows[0].IDNegocio)
	assert.Equal(t, "1234567", rows[0].UC)
	assert.Equal(t, "s2", rows[0].StageID)
	assert.Equal(t, "Protocolo", rows[0].ObjetivoEtapa, "later page wins")
	assert.Equal(t, "CEMIG", *rows[0].Concessionaria)
	assert.Equal(t, db.Date("2024-03-05"), rows[0].DataGanho)
	assert.Contains(t, rows[0].JSONCompleto, `"deal_custom_fields"`)

	assert.Equal(t, "7654321", rows[1].UC)
}

func TestRun_PipelinesUnavailable(t *testing.T) {
	f := &fakeCRM{pages: [][]map[string]any{{deal(5, "1", "s1")}}}
	rd, gdb := newRD(t, f)

	require.NoError(t, rd.Run(context.Background()))
	var row db.RawRDStation
	require.NoError(t, gdb.Take(&row).Error)
	assert.Equal(t, "", row.ObjetivoEtapa)
	assert.Equal(t, "Etapa s1", row.StatusRD)
}

func TestRun_EmptyFirstPage(t *testing.T) {
	f := &fakeCRM{pipelines: []any{}}
	rd, gdb := newRD(t, f)
	require.NoError(t, rd.Run(context.Background()))

	var n int64
	require.NoError(t, gdb.Model(&db.RawRDStation{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.hits[1])
}

func TestRun_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	h, err := db.Open(db.KindSQLitePure, ":memory:")
	require.NoError(t, err)
	require.NoError(t, h.Migrate())
	defer h.Close()

	rd := New(integrations.Deps{Log: zerolog.Nop(), DB: h.DB}, Config{BaseURL: srv.URL, Token: "x", TimeoutSec: 5})
	err = rd.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fetch.ErrUnrecoverable)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("RD_TOKEN", "tok")
	t.Setenv("RD_BASE_URL", "")
	cfg, err := LoadConfig(json.RawMessage(`{"limit":500}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, 200, cfg.Limit)
	assert.Equal(t, "tok", cfg.Token)

	t.Setenv("RD_TOKEN", "")
	_, err = LoadConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RD_TOKEN")
}
