package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Record is a normalized row keyed by column name.
// Absent optional values are stored as nil.
type Record map[string]any

// timestampLayouts are tried in order for string timestamps
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize coerces raw rows into records. Row numbers in errors are 1-based.
// Rows sharing a primary key collapse to the last occurrence, keeping the
// position of the first.
func (s *EntitySchema) Normalize(rows []any) ([]Record, error) {
	ec := NewErrorCollection(DefaultMaxErrors)
	records := make([]Record, 0, len(rows))
	byKey := make(map[string]int, len(rows))
	pk := s.PrimaryKey()

	for i, raw := range rows {
		rowNum := i + 1
		fields, ok := raw.(map[string]any)
		if !ok {
			ec.Add(RowError{Row: rowNum, Code: ErrCodeMalformedRow,
				Message: fmt.Sprintf("row must be an object, got %T", raw)})
			continue
		}

		rec, rowOK := s.normalizeRow(rowNum, fields, ec)
		if !rowOK {
			continue
		}

		key := recordKey(rec, pk)
		if idx, dup := byKey[key]; dup {
			records[idx] = rec
			continue
		}
		byKey[key] = len(records)
		records = append(records, rec)
	}

	if ec.HasErrors() {
		return nil, NewValidationError(s.TypeName, ec)
	}
	return records, nil
}

func (s *EntitySchema) normalizeRow(rowNum int, fields map[string]any, ec *ErrorCollection) (Record, bool) {
	rec := make(Record, len(s.Columns))
	ok := true

	for _, col := range s.Columns {
		raw, present := fields[col.Alias]
		if !present {
			raw = fields[col.Name]
		}

		value, err := coerce(col, raw)
		if err != nil {
			ec.AddTypeError(rowNum, col.Alias, col.Type, raw)
			ok = false
			continue
		}
		if value == nil {
			if col.Required {
				ec.AddRequiredError(rowNum, col.Alias)
				ok = false
			}
			rec[col.Name] = nil
			continue
		}
		if str, isStr := value.(string); isStr && col.MaxLength > 0 && utf8.RuneCountInString(str) > col.MaxLength {
			ec.AddLengthError(rowNum, col.Alias, col.MaxLength)
			ok = false
			continue
		}
		rec[col.Name] = value
	}
	return rec, ok
}

// coerce converts a raw JSON value into the column's storage type.
// A nil result with a nil error means the value is absent.
func coerce(col ColumnSpec, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if str, ok := raw.(string); ok && strings.TrimSpace(str) == "" {
		return nil, nil
	}

	switch col.Type {
	case TypeString:
		return toString(raw)
	case TypeUUID:
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("uuid must be a string")
		}
		id, err := uuid.Parse(strings.TrimSpace(str))
		if err != nil {
			return nil, err
		}
		if id == uuid.Nil && !col.Required {
			return nil, nil
		}
		return id, nil
	case TypeTimestamp:
		return toTimestamp(raw)
	case TypeDecimal:
		return toDecimal(raw)
	case TypeFloat:
		return toFloat(raw)
	case TypeInt:
		return toInt(raw)
	case TypeBool:
		return toBool(raw)
	}
	return nil, fmt.Errorf("unsupported column type %s", col.Type)
}

func toString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return nil, fmt.Errorf("cannot use %T as string", raw)
}

func toTimestamp(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		v = strings.TrimSpace(v)
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("unrecognized timestamp %q", v)
	}
	return nil, fmt.Errorf("cannot use %T as timestamp", raw)
}

func toDecimal(raw any) (any, error) {
	switch v := raw.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		return decimal.NewFromString(cleanNumber(v))
	}
	return nil, fmt.Errorf("cannot use %T as decimal", raw)
}

func toFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(cleanNumber(v), 64)
	}
	return nil, fmt.Errorf("cannot use %T as float", raw)
}

func toInt(raw any) (any, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.Int64()
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(cleanNumber(v), 10, 64)
	}
	return nil, fmt.Errorf("cannot use %T as integer", raw)
}

func toBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case json.Number:
		switch v.String() {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "да":
			return true, nil
		case "false", "0", "no", "нет":
			return false, nil
		}
	}
	return nil, fmt.Errorf("cannot use %v as boolean", raw)
}

// cleanNumber strips grouping spaces and accepts a decimal comma
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(s)
	return s
}

func recordKey(rec Record, pk []string) string {
	var b strings.Builder
	for i, col := range pk {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		switch v := rec[col].(type) {
		case time.Time:
			b.WriteString(v.Format(time.RFC3339Nano))
		default:
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}
