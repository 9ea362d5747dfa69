package ingest

import (
	"context"

	"github.com/erp/costalloc/internal/domain/shared"
)

// Keys of a batch group as produced by the source system
const (
	GroupTypeKey = "НаименованиеМетаданных"
	GroupRowsKey = "Данные"
)

// Group is one entry of a batch: a type name and its raw rows
type Group struct {
	Index    int
	TypeName string
	Rows     any
}

// RowList returns the rows as a list or a DATA_FORMAT_ERROR
func (g Group) RowList() ([]any, error) {
	rows, ok := g.Rows.([]any)
	if !ok {
		return nil, shared.NewDataFormatError("'%s' field of '%s' must be a list", GroupRowsKey, g.TypeName)
	}
	return rows, nil
}

// ParseGroups splits a decoded batch document into groups.
// The document must be a list of objects.
func ParseGroups(doc any) ([]Group, error) {
	items, ok := doc.([]any)
	if !ok {
		return nil, shared.NewDataFormatError("batch must be a list of groups, got %s", jsonKind(doc))
	}

	groups := make([]Group, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, shared.NewDataFormatError("group %d must be an object, got %s", i+1, jsonKind(item))
		}
		typeName, _ := obj[GroupTypeKey].(string)
		groups = append(groups, Group{
			Index:    i,
			TypeName: typeName,
			Rows:     obj[GroupRowsKey],
		})
	}
	return groups, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}

// GroupSummary reports what one group replaced
type GroupSummary struct {
	TypeName string `json:"type_name"`
	Table    string `json:"table"`
	Rows     int    `json:"rows"`
	Replaced int64  `json:"replaced"`
}

// BatchSummary reports the outcome of an applied batch
type BatchSummary struct {
	Groups []GroupSummary `json:"groups"`
	Rows   int            `json:"rows"`
}

// ScopeReplacer swaps the scope of staged records into the target table
type ScopeReplacer interface {
	// ReplaceScope deletes every row sharing a scope key with records and inserts records.
	// It returns the number of rows deleted. An empty record list is a no-op.
	ReplaceScope(ctx context.Context, schema *EntitySchema, records []Record) (int64, error)
}
