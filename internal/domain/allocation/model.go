package allocation

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Key groups the expense rows whose total must be redistributed exactly.
// GoodsDocID is only set for direct expenses.
type Key struct {
	RegistrarID    uuid.UUID
	CostCategoryID uuid.UUID
	GoodsDocID     uuid.UUID
}

func (k Key) String() string {
	if k.GoodsDocID == uuid.Nil {
		return fmt.Sprintf("%s/%s", k.RegistrarID, k.CostCategoryID)
	}
	return fmt.Sprintf("%s/%s/%s", k.RegistrarID, k.CostCategoryID, k.GoodsDocID)
}

func (k Key) less(o Key) bool {
	if c := bytes.Compare(k.RegistrarID[:], o.RegistrarID[:]); c != 0 {
		return c < 0
	}
	if c := bytes.Compare(k.CostCategoryID[:], o.CostCategoryID[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(k.GoodsDocID[:], o.GoodsDocID[:]) < 0
}

// ExpenseLine is one source expense row restricted to the processed month.
// LinkID names the candidate set the line draws from: the goods document
// for direct expenses, the department for warehouse expenses and uuid.Nil
// for general expenses, which all share one set.
type ExpenseLine struct {
	Key    Key
	LinkID uuid.UUID
	Date   time.Time
	Amount decimal.Decimal
}

// Candidate is a goods item eligible for a share of the lines with the same LinkID
type Candidate struct {
	LinkID       uuid.UUID
	GoodsID      uuid.UUID
	DepartmentID uuid.UUID
	Weight       decimal.NullDecimal
}

// eligible reports whether the candidate carries a usable positive weight
func (c Candidate) eligible() bool {
	return c.Weight.Valid && c.Weight.Decimal.IsPositive()
}

// Snapshot is everything the engine needs for one (month, class) unit
type Snapshot struct {
	Type       ExpenseType
	Window     Window
	Lines      []ExpenseLine
	Candidates []Candidate
}

// Row is one published allocation. Its composite key is
// (Type, RegistrarID, GoodsID, DepartmentID, CostCategoryID, Date).
type Row struct {
	Type           ExpenseType
	RegistrarID    uuid.UUID
	GoodsID        uuid.UUID
	DepartmentID   uuid.UUID
	CostCategoryID uuid.UUID
	Date           time.Time
	Amount         decimal.Decimal
}

type rowKey struct {
	registrar  uuid.UUID
	goods      uuid.UUID
	department uuid.UUID
	category   uuid.UUID
	date       int64
}

func (r Row) key() rowKey {
	return rowKey{r.RegistrarID, r.GoodsID, r.DepartmentID, r.CostCategoryID, r.Date.UnixNano()}
}

func (r Row) less(o Row) bool {
	if c := bytes.Compare(r.RegistrarID[:], o.RegistrarID[:]); c != 0 {
		return c < 0
	}
	if c := bytes.Compare(r.CostCategoryID[:], o.CostCategoryID[:]); c != 0 {
		return c < 0
	}
	if c := bytes.Compare(r.GoodsID[:], o.GoodsID[:]); c != 0 {
		return c < 0
	}
	if c := bytes.Compare(r.DepartmentID[:], o.DepartmentID[:]); c != 0 {
		return c < 0
	}
	return r.Date.Before(o.Date)
}

// DegenerateKeyWarning describes a key that produced no rows because no
// candidate with positive weight was linked to it. It is not an error.
type DegenerateKeyWarning struct {
	Type   ExpenseType
	Month  string
	Key    Key
	Total  decimal.Decimal
	Reason string
}

func (w DegenerateKeyWarning) String() string {
	return fmt.Sprintf("%s %s key %s (total %s): %s", w.Type.Code(), w.Month, w.Key, w.Total, w.Reason)
}

// Result is the output of one engine run
type Result struct {
	Type       ExpenseType
	Window     Window
	Rows       []Row
	Keys       int
	Degenerate []DegenerateKeyWarning
}

// Total sums every emitted amount
func (r *Result) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, row := range r.Rows {
		sum = sum.Add(row.Amount)
	}
	return sum
}
