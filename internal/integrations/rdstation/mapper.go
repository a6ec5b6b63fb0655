package rdstation

import (
	"encoding/json"
	"time"

	"github.com/bartek5186/billsync/internal/db"
	"github.com/bartek5186/billsync/internal/integrations/fetch"
	"github.com/bartek5186/billsync/internal/normalize"
)

// etykiety pól własnych w CRM; pierwsza niepusta wygrywa
var (
	labelsUC             = []string{"Unidade Consumidora", "UC"}
	labelsConcessionaria = []string{"Concessionária", "Distribuidora"}
	labelsArea           = []string{"Área de Gestão", "Geração Compartilhada"}
)

const (
	labelConsumo      = "Consumo Médio na Venda (MWh)"
	labelDiaLeitura   = "Data de leitura estimada (Dia)"
	labelProtocolo    = "Data do 1º protocolo"
	labelCancelamento = "Data de pedido de cancelamento"
)

// Objectives: stage id -> objective etapy lejka.
type Objectives map[string]string

// CustomFields indeksuje deal_custom_fields po etykiecie.
func CustomFields(deal fetch.Record) map[string]any {
	out := map[string]any{}
	list, _ := deal["deal_custom_fields"].([]any)
	for _, it := range list {
		f, ok := it.(map[string]any)
		if !ok {
			continue
		}
		cf, ok := f["custom_field"].(map[string]any)
		if !ok {
			continue
		}
		if label := normalize.String(cf["label"]); label != "" {
			out[label] = f["value"]
		}
	}
	return out
}

func first(fields map[string]any, labels []string) any {
	for _, l := range labels {
		if v := fields[l]; normalize.String(v) != "" {
			return v
		}
	}
	return nil
}

// MapDeal mapuje negócio na wiersz raw_rd_station.
// Odrzuca negócios bez UC albo z nieliczbowym id.
func MapDeal(deal fetch.Record, objectives Objectives, now time.Time) (db.RawRDStation, bool) {
	id, ok := normalize.Int64(deal["id"])
	if !ok {
		return db.RawRDStation{}, false
	}
	fields := CustomFields(deal)
	uc := normalize.Identifier(first(fields, labelsUC))
	if uc == "" {
		return db.RawRDStation{}, false
	}

	stage, _ := deal["deal_stage"].(map[string]any)
	stageID := normalize.String(stage["id"])

	raw, err := json.Marshal(deal)
	if err != nil {
		raw = []byte("{}")
	}

	return db.RawRDStation{
		IDNegocio:        id,
		UC:               uc,
		NomeNegocio:      normalize.OptString(deal["name"]),
		Concessionaria:   normalize.OptString(first(fields, labelsConcessionaria)),
		AreaDeGestao:     normalize.OptString(first(fields, labelsArea)),
		StageID:          stageID,
		StatusRD:         normalize.String(stage["name"]),
		ObjetivoEtapa:    objectives[stageID],
		DataGanho:        db.Date(normalize.Date(deal["closed_at"])),
		DataProtocolo:    db.Date(normalize.Date(fields[labelProtocolo])),
		DataCancelamento: db.Date(normalize.Date(fields[labelCancelamento])),
		ConsumoMedioMWh:  normalize.Amount(fields[labelConsumo]),
		DiaLeitura:       normalize.Int(fields[labelDiaLeitura]),
		JSONCompleto:     string(raw),
		UpdatedAt:        now,
	}, true
}

func MapPage(deals []fetch.Record, objectives Objectives, now time.Time) ([]db.RawRDStation, int) {
	rows := make([]db.RawRDStation, 0, len(deals))
	for _, d := range deals {
		if row, ok := MapDeal(d, objectives, now); ok {
			rows = append(rows, row)
		}
	}
	return rows, len(deals) - len(rows)
}

// BuildObjectives z listy lejków (deal_pipelines -> deal_stages).
func BuildObjectives(pipelines []fetch.Record) Objectives {
	out := Objectives{}
	for _, p := range pipelines {
		stages, _ := p["deal_stages"].([]any)
		for _, it := range stages {
			st, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if id := normalize.String(st["id"]); id != "" {
				out[id] = normalize.String(st["objective"])
			}
		}
	}
	return out
}
