package ingest

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/erp/costalloc/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRows(t *testing.T, payload string) []any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var rows []any
	require.NoError(t, dec.Decode(&rows))
	return rows
}

func testSchema() *EntitySchema {
	return NewEntitySchema("ПрямыеЗатраты", "reg_direct_expenses",
		Column("Регистратор", "registrar_id").UUID().PrimaryKey(),
		Column("Дата", "date").Timestamp().PrimaryKey(),
		Column("Подразделение", "department_id").UUID(),
		Column("СуммаСтавка", "amount").Decimal(),
		Column("НомерМеста", "place").Int(),
		Column("Сторно", "storno").Bool(),
		Column("Вес", "weight").Float(),
		Column("Код", "code").MaxLength(3),
	).WithScope("registrar_id")
}

func TestEntitySchema_Normalize(t *testing.T) {
	registrar := uuid.New()

	t.Run("coerces every column type", func(t *testing.T) {
		rows := decodeRows(t, `[{
			"Регистратор": "`+registrar.String()+`",
			"Дата": "2024-03-05T10:11:12",
			"Подразделение": "",
			"СуммаСтавка": 1234.5678,
			"НомерМеста": 3,
			"Сторно": false,
			"Вес": "1,5",
			"Код": "АБВ",
			"Лишнее": "ignored"
		}]`)

		records, err := testSchema().Normalize(rows)
		require.NoError(t, err)
		require.Len(t, records, 1)

		rec := records[0]
		assert.Equal(t, registrar, rec["registrar_id"])
		assert.Equal(t, time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC), rec["date"])
		assert.Nil(t, rec["department_id"])
		assert.True(t, rec["amount"].(decimal.Decimal).Equal(decimal.RequireFromString("1234.5678")))
		assert.Equal(t, int64(3), rec["place"])
		assert.Equal(t, false, rec["storno"])
		assert.Equal(t, 1.5, rec["weight"])
		assert.Equal(t, "АБВ", rec["code"])
		_, extra := rec["Лишнее"]
		assert.False(t, extra)
	})

	t.Run("accepts column names as keys", func(t *testing.T) {
		rows := decodeRows(t, `[{"registrar_id": "`+registrar.String()+`", "date": "2024-03-05"}]`)

		records, err := testSchema().Normalize(rows)
		require.NoError(t, err)
		assert.Equal(t, registrar, records[0]["registrar_id"])
	})

	t.Run("zero guid on optional uuid is absent", func(t *testing.T) {
		rows := decodeRows(t, `[{"Регистратор": "`+registrar.String()+`", "Дата": "2024-03-05",
			"Подразделение": "00000000-0000-0000-0000-000000000000"}]`)

		records, err := testSchema().Normalize(rows)
		require.NoError(t, err)
		assert.Nil(t, records[0]["department_id"])
	})

	t.Run("collects typed row errors", func(t *testing.T) {
		rows := decodeRows(t, `[
			{"Регистратор": "not-a-uuid", "Дата": "2024-03-05"},
			{"Дата": "yesterday", "Регистратор": "`+registrar.String()+`"},
			{"Регистратор": "`+registrar.String()+`", "Дата": "2024-03-05", "Код": "ABCD"},
			"scalar"
		]`)

		_, err := testSchema().Normalize(rows)
		require.Error(t, err)

		var de *shared.DomainError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, shared.CodeValidation, de.Code)
		details, ok := de.Details.(ValidationDetails)
		require.True(t, ok)
		assert.Equal(t, 4, details.TotalCount)
		assert.Equal(t, "ПрямыеЗатраты", details.TypeName)

		codes := make([]string, 0, len(details.Errors))
		for _, e := range details.Errors {
			codes = append(codes, e.Code)
		}
		assert.Equal(t, []string{ErrCodeInvalidType, ErrCodeInvalidType, ErrCodeInvalidLength, ErrCodeMalformedRow}, codes)
		assert.Equal(t, 1, details.Errors[0].Row)
		assert.Equal(t, "Регистратор", details.Errors[0].Column)
	})

	t.Run("missing primary key is required error", func(t *testing.T) {
		rows := decodeRows(t, `[{"Дата": "2024-03-05", "Регистратор": " "}]`)

		_, err := testSchema().Normalize(rows)
		require.Error(t, err)
		var de *shared.DomainError
		require.ErrorAs(t, err, &de)
		details := de.Details.(ValidationDetails)
		require.Len(t, details.Errors, 1)
		assert.Equal(t, ErrCodeRequiredField, details.Errors[0].Code)
	})

	t.Run("duplicate keys collapse to last occurrence", func(t *testing.T) {
		other := uuid.New()
		rows := decodeRows(t, `[
			{"Регистратор": "`+registrar.String()+`", "Дата": "2024-03-05", "СуммаСтавка": "1"},
			{"Регистратор": "`+other.String()+`", "Дата": "2024-03-05", "СуммаСтавка": "2"},
			{"Регистратор": "`+registrar.String()+`", "Дата": "2024-03-05T00:00:00", "СуммаСтавка": "3"}
		]`)

		records, err := testSchema().Normalize(rows)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, registrar, records[0]["registrar_id"])
		assert.True(t, records[0]["amount"].(decimal.Decimal).Equal(decimal.NewFromInt(3)))
		assert.Equal(t, other, records[1]["registrar_id"])
	})

	t.Run("empty list yields no records", func(t *testing.T) {
		records, err := testSchema().Normalize([]any{})
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		col     ColumnSpec
		raw     any
		want    any
		wantErr bool
	}{
		{"bool from text", Column("x", "x").Bool().Build(), "Да", true, false},
		{"bool from number", Column("x", "x").Bool().Build(), json.Number("0"), false, false},
		{"bool rejects other", Column("x", "x").Bool().Build(), "maybe", nil, true},
		{"int rejects fraction", Column("x", "x").Int().Build(), 1.5, nil, true},
		{"int from grouped text", Column("x", "x").Int().Build(), "1 200", int64(1200), false},
		{"string from number", Column("x", "x").Build(), json.Number("42"), "42", false},
		{"uuid rejects number", Column("x", "x").UUID().Build(), json.Number("1"), nil, true},
		{"rfc3339 timestamp", Column("x", "x").Timestamp().Build(), "2024-03-05T10:00:00+03:00",
			time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC), false},
		{"nil is absent", Column("x", "x").Decimal().Build(), nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerce(tt.col, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
