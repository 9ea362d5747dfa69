package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/erp/costalloc/internal/domain/ingest"
	"gorm.io/gorm"
)

// DefaultStageBatchSize is the number of rows per staging insert
const DefaultStageBatchSize = 1000

// GormScopeReplacer applies normalized records to a source table through a
// transaction-local staging table: stage, delete by scope, insert from stage.
// It must run on a transaction handle.
type GormScopeReplacer struct {
	tx        *gorm.DB
	batchSize int
	now       func() time.Time
}

// NewGormScopeReplacer creates a replacer bound to tx
func NewGormScopeReplacer(tx *gorm.DB, batchSize int) *GormScopeReplacer {
	if batchSize <= 0 {
		batchSize = DefaultStageBatchSize
	}
	return &GormScopeReplacer{tx: tx, batchSize: batchSize, now: time.Now}
}

// ReplaceScope implements ingest.ScopeReplacer
func (r *GormScopeReplacer) ReplaceScope(ctx context.Context, schema *ingest.EntitySchema, records []ingest.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	db := r.tx.WithContext(ctx)
	stage := "stage_" + schema.Table
	target := quoteIdent(schema.Table)

	if err := createStage(db, stage, schema.Table); err != nil {
		return 0, fmt.Errorf("failed to create staging table for %s: %w", schema.Table, err)
	}

	now := r.now().UTC()
	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		row := make(map[string]any, len(rec)+2)
		for k, v := range rec {
			row[k] = v
		}
		row["created_at"] = now
		row["updated_at"] = now
		rows[i] = row
	}
	for start := 0; start < len(rows); start += r.batchSize {
		end := min(start+r.batchSize, len(rows))
		if err := db.Table(stage).Create(rows[start:end]).Error; err != nil {
			return 0, fmt.Errorf("failed to stage %s rows: %w", schema.Table, err)
		}
	}

	conds := make([]string, 0, len(schema.Scope()))
	for _, col := range schema.Scope() {
		c := quoteIdent(col)
		conds = append(conds, fmt.Sprintf("s.%s = %s.%s", c, target, c))
	}
	del := db.Exec(fmt.Sprintf("DELETE FROM %s WHERE EXISTS (SELECT 1 FROM %s s WHERE %s)",
		target, quoteIdent(stage), strings.Join(conds, " AND ")))
	if del.Error != nil {
		return 0, fmt.Errorf("failed to delete %s scope: %w", schema.Table, del.Error)
	}

	cols := make([]string, 0, len(schema.Columns)+2)
	for _, name := range schema.ColumnNames() {
		cols = append(cols, quoteIdent(name))
	}
	cols = append(cols, quoteIdent("created_at"), quoteIdent("updated_at"))
	colList := strings.Join(cols, ", ")
	if err := db.Exec(fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		target, colList, colList, quoteIdent(stage))).Error; err != nil {
		return 0, fmt.Errorf("failed to insert %s rows: %w", schema.Table, err)
	}

	if err := db.Exec("DROP TABLE IF EXISTS " + quoteIdent(stage)).Error; err != nil {
		return 0, fmt.Errorf("failed to drop staging table for %s: %w", schema.Table, err)
	}
	return del.RowsAffected, nil
}

func createStage(db *gorm.DB, stage, table string) error {
	if err := db.Exec("DROP TABLE IF EXISTS " + quoteIdent(stage)).Error; err != nil {
		return err
	}
	if db.Dialector.Name() == DialectPostgres {
		return db.Exec(fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
			quoteIdent(stage), quoteIdent(table))).Error
	}
	return db.Exec(fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT * FROM %s WHERE 0",
		quoteIdent(stage), quoteIdent(table))).Error
}

// quoteIdent quotes a table or column name declared by an entity schema
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var _ ingest.ScopeReplacer = (*GormScopeReplacer)(nil)
