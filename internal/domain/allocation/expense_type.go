package allocation

import (
	"fmt"
	"strings"
)

// ExpenseType is the tag stored in dm_goods_expense_alloc.type_expense.
// The values are the labels used by the downstream cost reports.
type ExpenseType string

const (
	ExpenseTypeDirect    ExpenseType = "Прямые расходы"
	ExpenseTypeWarehouse ExpenseType = "Складские расходы"
	ExpenseTypeGeneral   ExpenseType = "Общие расходы"
)

// AllExpenseTypes returns the expense classes in processing order
func AllExpenseTypes() []ExpenseType {
	return []ExpenseType{
		ExpenseTypeDirect,
		ExpenseTypeWarehouse,
		ExpenseTypeGeneral,
	}
}

// IsValid checks if the expense type is one of the known classes
func (t ExpenseType) IsValid() bool {
	switch t {
	case ExpenseTypeDirect, ExpenseTypeWarehouse, ExpenseTypeGeneral:
		return true
	}
	return false
}

// Code returns a short ASCII identifier used in job names, lock keys and metrics
func (t ExpenseType) Code() string {
	switch t {
	case ExpenseTypeDirect:
		return "direct"
	case ExpenseTypeWarehouse:
		return "warehouse"
	case ExpenseTypeGeneral:
		return "general"
	}
	return "unknown"
}

// JobName is the job status key of the incremental run for this class
func (t ExpenseType) JobName() string {
	return fmt.Sprintf("alloc_%s_expenses", t.Code())
}

// RangeJobName is the job status key of explicit range recomputes.
// It is kept apart from JobName so a manual range run never moves the
// incremental watermark.
func (t ExpenseType) RangeJobName() string {
	return fmt.Sprintf("recalc_%s_expenses", t.Code())
}

// ParseExpenseType resolves either a short code or a full label
func ParseExpenseType(s string) (ExpenseType, error) {
	s = strings.TrimSpace(s)
	for _, t := range AllExpenseTypes() {
		if s == t.Code() || s == string(t) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown expense type %q", s)
}
