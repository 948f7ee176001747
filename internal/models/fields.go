package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Table names a destination table.
type Table string

const (
	TableClaims         Table = "claims"
	TableReferralClaims Table = "referral_claims"
	TableStatementItems Table = "statement_items"
	TableClaimDetails   Table = "claim_detail_items"
)

// FieldKind is the value type of a destination field.
type FieldKind string

const (
	KindText   FieldKind = "text"
	KindDate   FieldKind = "date"
	KindAmount FieldKind = "amount"
	KindCount  FieldKind = "count"
	KindRatio  FieldKind = "ratio"
)

const (
	FieldTranID    = "tran_id"
	FundPrefix     = "fund."
	DetailPrefix   = "detail."
	AmountScale    = 2
	RatioScale     = 4
	fundCodeMaxLen = 32
)

// FieldSpec describes one destination column.
type FieldSpec struct {
	Name     string
	Kind     FieldKind
	MaxWidth int
	Required bool
	// Identity fields are written once and never rewritten by a later upsert.
	Identity bool
	// Key fields identify a transaction or a patient. A value wider than
	// MaxWidth fails the row instead of being truncated.
	Key bool
}

// TableSpec is the registry entry for a destination table.
type TableSpec struct {
	Name   Table
	Fields []FieldSpec
	// FundAmounts enables fund.<code> amount fields folded into the fund_amounts column.
	FundAmounts bool
	// DetailPayload enables free-form detail.<name> fields folded into the payload column.
	DetailPayload bool

	byName map[string]FieldSpec
}

func (t *TableSpec) Field(name string) (FieldSpec, bool) {
	if f, ok := t.byName[name]; ok {
		return f, true
	}
	switch {
	case t.FundAmounts && strings.HasPrefix(name, FundPrefix):
		code := strings.TrimPrefix(name, FundPrefix)
		if code == "" || len(code) > fundCodeMaxLen {
			return FieldSpec{}, false
		}
		return FieldSpec{Name: name, Kind: KindAmount}, true
	case t.DetailPayload && strings.HasPrefix(name, DetailPrefix):
		if strings.TrimPrefix(name, DetailPrefix) == "" {
			return FieldSpec{}, false
		}
		return FieldSpec{Name: name, Kind: ""}, true
	}
	return FieldSpec{}, false
}

func (t *TableSpec) Required() []string {
	var out []string
	for _, f := range t.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Columns returns fixed columns in declaration order.
func (t *TableSpec) Columns() []FieldSpec {
	return t.Fields
}

func newTable(name Table, fund, detail bool, fields ...FieldSpec) *TableSpec {
	t := &TableSpec{Name: name, Fields: fields, FundAmounts: fund, DetailPayload: detail, byName: map[string]FieldSpec{}}
	for _, f := range fields {
		t.byName[f.Name] = f
	}
	return t
}

var claimFields = []FieldSpec{
	{Name: FieldTranID, Kind: KindText, MaxWidth: 32, Required: true, Identity: true, Key: true},
	{Name: "rep_no", Kind: KindText, MaxWidth: 32, Identity: true, Key: true},
	{Name: "hn", Kind: KindText, MaxWidth: 20, Identity: true, Key: true},
	{Name: "an", Kind: KindText, MaxWidth: 20, Identity: true, Key: true},
	{Name: "pid", Kind: KindText, MaxWidth: 13, Identity: true, Key: true},
	{Name: "patient_name", Kind: KindText, MaxWidth: 200, Identity: true},
	{Name: "patient_type", Kind: KindText, MaxWidth: 20},
	{Name: "main_fund", Kind: KindText, MaxWidth: 100},
	{Name: "sub_fund", Kind: KindText, MaxWidth: 100},
	{Name: "service_date", Kind: KindDate},
	{Name: "admit_date", Kind: KindDate},
	{Name: "discharge_date", Kind: KindDate},
	{Name: "claim_amount", Kind: KindAmount},
	{Name: "compensated_amount", Kind: KindAmount},
	{Name: "paid_amount", Kind: KindAmount},
	{Name: "salary_deduction", Kind: KindAmount},
	{Name: "adj_rw", Kind: KindRatio},
	{Name: "error_code", Kind: KindText, MaxWidth: 100},
	{Name: "service_count", Kind: KindCount},
}

var tables = map[Table]*TableSpec{
	TableClaims: newTable(TableClaims, true, false, claimFields...),
	TableReferralClaims: newTable(TableReferralClaims, true, false, append(append([]FieldSpec{}, claimFields...),
		FieldSpec{Name: "refer_out_hcode", Kind: KindText, MaxWidth: 10},
		FieldSpec{Name: "refer_in_hcode", Kind: KindText, MaxWidth: 10},
	)...),
	TableStatementItems: newTable(TableStatementItems, false, false,
		FieldSpec{Name: FieldTranID, Kind: KindText, MaxWidth: 32, Required: true, Identity: true, Key: true},
		FieldSpec{Name: "statement_no", Kind: KindText, MaxWidth: 32, Identity: true, Key: true},
		FieldSpec{Name: "rep_no", Kind: KindText, MaxWidth: 32},
		FieldSpec{Name: "hn", Kind: KindText, MaxWidth: 20, Identity: true, Key: true},
		FieldSpec{Name: "an", Kind: KindText, MaxWidth: 20, Identity: true, Key: true},
		FieldSpec{Name: "pid", Kind: KindText, MaxWidth: 13, Identity: true, Key: true},
		FieldSpec{Name: "patient_name", Kind: KindText, MaxWidth: 200, Identity: true},
		FieldSpec{Name: "service_date", Kind: KindDate},
		FieldSpec{Name: "claim_amount", Kind: KindAmount},
		FieldSpec{Name: "paid_amount", Kind: KindAmount},
	),
	TableClaimDetails: newTable(TableClaimDetails, false, true,
		FieldSpec{Name: FieldTranID, Kind: KindText, MaxWidth: 32, Required: true, Identity: true, Key: true},
	),
}

func LookupTable(name Table) (*TableSpec, error) {
	t, ok := tables[name]
	if !ok {
		return nil, fmt.Errorf("unknown destination table %q", name)
	}
	return t, nil
}

// Record is one mapped source row ready for loading. Values holds the typed
// value of each fixed column: string, time.Time, decimal.Decimal, int64 or nil.
type Record struct {
	Table       Table
	SheetKind   string
	SourceSheet string
	SourceRow   int
	TranID      string
	Values      map[string]any
	FundAmounts map[string]decimal.Decimal
	Detail      map[string]any
	Truncated   []string
}

func NewRecord(table Table) *Record {
	return &Record{Table: table, Values: map[string]any{}}
}
