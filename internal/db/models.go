// internal/db/models.go
package db

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Date trzyma datę jako "YYYY-MM-DD"; pusty string to NULL.
// Nierozpoznane formaty z upstreamu lecą do bazy bez zmian.
type Date string

func (d Date) Value() (driver.Value, error) {
	if d == "" {
		return nil, nil
	}
	return string(d), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = ""
	case time.Time:
		*d = Date(v.Format("2006-01-02"))
	case string:
		*d = Date(trimDate(v))
	case []byte:
		*d = Date(trimDate(string(v)))
	default:
		return fmt.Errorf("db.Date: nieobsługiwany typ %T", src)
	}
	return nil
}

func (Date) GormDataType() string { return "date" }

// sterowniki sqlite potrafią oddać "2024-01-01T00:00:00Z" dla kolumn date
func trimDate(s string) string {
	if len(s) > 10 && s[4] == '-' && s[7] == '-' && (s[10] == 'T' || s[10] == ' ') {
		return s[:10]
	}
	return s
}

// InvoiceRow – wspólny kształt faktury (uc + miesiąc referencyjny), osadzany w tabelach per źródło.
type InvoiceRow struct {
	UC                 string    `gorm:"primaryKey;column:uc;size:64"`
	MesReferencia      Date      `gorm:"primaryKey;column:mes_referencia"`
	NomeCliente        *string   `gorm:"column:nome_cliente"`
	ConsumoKWh         float64   `gorm:"column:consumo_kwh;type:numeric"`
	EnergiaCompensada  float64   `gorm:"column:energia_compensada;type:numeric"`
	EconomiaTotal      float64   `gorm:"column:economia_total;type:numeric"`
	RemuneracaoGeracao float64   `gorm:"column:remuneracao_geracao;type:numeric"`
	StatusPagamento    *string   `gorm:"column:status_pagamento"`
	Vencimento         Date      `gorm:"column:vencimento"`
	OrigemConta        string    `gorm:"column:origem_conta;index"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (r InvoiceRow) NaturalKey() string { return r.UC + "|" + string(r.MesReferencia) }

// raw_lumi
type RawLumi struct {
	InvoiceRow
	ValorTotalFatura float64 `gorm:"column:valor_total_fatura;type:numeric"`
	DataEnvio        Date    `gorm:"column:data_envio"`
	LinkBoleto       *string `gorm:"column:link_boleto"`
}

func (RawLumi) TableName() string { return "raw_lumi" }

// raw_unifica
type RawUnifica struct {
	InvoiceRow
	ValorFatura               float64 `gorm:"column:valor_fatura;type:numeric"`
	CodigoBarras              *string `gorm:"column:codigo_barras"`
	CodigoPix                 *string `gorm:"column:codigo_pix"`
	DataEmissaoConcessionaria Date    `gorm:"column:data_emissao_concessionaria"`
	VencimentoConcessionaria  Date    `gorm:"column:vencimento_concessionaria"`
	DataEmissao               Date    `gorm:"column:data_emissao"`
	LinkFatura                *string `gorm:"column:link_fatura"`
}

func (RawUnifica) TableName() string { return "raw_unifica" }

// raw_rd_station – negócios z CRM
type RawRDStation struct {
	IDNegocio        int64     `gorm:"primaryKey;autoIncrement:false;column:id_negocio"`
	UC               string    `gorm:"column:uc;size:64;index"`
	NomeNegocio      *string   `gorm:"column:nome_negocio"`
	Concessionaria   *string   `gorm:"column:concessionaria"`
	AreaDeGestao     *string   `gorm:"column:area_de_gestao"`
	StageID          string    `gorm:"column:stage_id"`
	StatusRD         string    `gorm:"column:status_rd"`
	ObjetivoEtapa    string    `gorm:"column:objetivo_etapa"`
	DataGanho        Date      `gorm:"column:data_ganho"`
	DataProtocolo    Date      `gorm:"column:data_protocolo"`
	DataCancelamento Date      `gorm:"column:data_cancelamento"`
	ConsumoMedioMWh  float64   `gorm:"column:consumo_medio_mwh;type:numeric"`
	DiaLeitura       *int      `gorm:"column:dia_leitura"`
	JSONCompleto     string    `gorm:"column:json_completo;type:text"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (RawRDStation) TableName() string { return "raw_rd_station" }

func (r RawRDStation) NaturalKey() string { return fmt.Sprintf("%d", r.IDNegocio) }

// Klucze konfliktu dla upsertów.
var (
	InvoiceKey = []string{"uc", "mes_referencia"}
	DealKey    = []string{"id_negocio"}
)

// KV – proste klucz/wartość (checkpointy w trybie "kv")
type KV struct {
	K string `gorm:"primaryKey"`
	V string
}
