package allocation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func weight(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

// ordered ids so tie-breaks are predictable in assertions
func idN(n byte) uuid.UUID {
	var id uuid.UUID
	id[15] = n
	return id
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultPrecision)
	require.NoError(t, err)
	return engine
}

func march() Window {
	return MonthOf(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
}

func sumByKey(rows []Row) map[[2]uuid.UUID]decimal.Decimal {
	out := make(map[[2]uuid.UUID]decimal.Decimal)
	for _, r := range rows {
		k := [2]uuid.UUID{r.RegistrarID, r.CostCategoryID}
		out[k] = out[k].Add(r.Amount)
	}
	return out
}

func TestNewEngine(t *testing.T) {
	t.Run("accepts configured precision", func(t *testing.T) {
		engine, err := NewEngine(4)
		require.NoError(t, err)
		assert.Equal(t, int32(4), engine.Precision())
		assert.True(t, engine.Increment().Equal(dec("0.0001")))
	})

	t.Run("rejects out of range precision", func(t *testing.T) {
		_, err := NewEngine(-1)
		assert.Error(t, err)
		_, err = NewEngine(MaxPrecision + 1)
		assert.Error(t, err)
	})
}

func TestEngine_RemainderCorrection(t *testing.T) {
	engine := newTestEngine(t)
	doc := uuid.New()
	key := Key{RegistrarID: idN(1), CostCategoryID: idN(2), GoodsDocID: doc}

	t.Run("three equal weights give the extra cent to rank one", func(t *testing.T) {
		snapshot := Snapshot{
			Type:   ExpenseTypeDirect,
			Window: march(),
			Lines: []ExpenseLine{
				{Key: key, LinkID: doc, Date: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), Amount: dec("100.00")},
			},
			Candidates: []Candidate{
				{LinkID: doc, GoodsID: idN(30), DepartmentID: idN(9), Weight: weight("10")},
				{LinkID: doc, GoodsID: idN(10), DepartmentID: idN(9), Weight: weight("10")},
				{LinkID: doc, GoodsID: idN(20), DepartmentID: idN(9), Weight: weight("10")},
			},
		}

		result, err := engine.Compute(snapshot)
		require.NoError(t, err)
		require.Len(t, result.Rows, 3)

		amounts := map[uuid.UUID]string{}
		for _, r := range result.Rows {
			amounts[r.GoodsID] = r.Amount.StringFixed(2)
		}
		assert.Equal(t, "33.34", amounts[idN(10)])
		assert.Equal(t, "33.33", amounts[idN(20)])
		assert.Equal(t, "33.33", amounts[idN(30)])
		assert.True(t, result.Total().Equal(dec("100.00")))
		assert.Empty(t, result.Degenerate)
	})

	t.Run("negative remainder is taken from the largest shares", func(t *testing.T) {
		// 0.10 over six equal weights rounds to 0.02 each, overshooting by 0.02
		candidates := make([]Candidate, 0, 6)
		for i := byte(1); i <= 6; i++ {
			candidates = append(candidates, Candidate{LinkID: doc, GoodsID: idN(i), DepartmentID: idN(9), Weight: weight("1")})
		}
		result, err := engine.Compute(Snapshot{
			Type:       ExpenseTypeDirect,
			Window:     march(),
			Lines:      []ExpenseLine{{Key: key, LinkID: doc, Date: march().Start, Amount: dec("0.10")}},
			Candidates: candidates,
		})
		require.NoError(t, err)
		require.Len(t, result.Rows, 6)

		amounts := map[uuid.UUID]string{}
		for _, r := range result.Rows {
			amounts[r.GoodsID] = r.Amount.StringFixed(2)
		}
		// err = -0.02, k = 2, n = 6: ranks 1 and 2 (lowest ids on ties) lose one cent each
		assert.Equal(t, "0.01", amounts[idN(1)])
		assert.Equal(t, "0.01", amounts[idN(2)])
		assert.Equal(t, "0.02", amounts[idN(3)])
		assert.Equal(t, "0.02", amounts[idN(6)])
		assert.True(t, result.Total().Equal(dec("0.10")))
	})

	t.Run("sub-increment remainder goes to rank one in full", func(t *testing.T) {
		result, err := engine.Compute(Snapshot{
			Type:   ExpenseTypeDirect,
			Window: march(),
			Lines:  []ExpenseLine{{Key: key, LinkID: doc, Date: march().Start, Amount: dec("10.005")}},
			Candidates: []Candidate{
				{LinkID: doc, GoodsID: idN(1), Weight: weight("3")},
				{LinkID: doc, GoodsID: idN(2), Weight: weight("1")},
			},
		})
		require.NoError(t, err)
		require.Len(t, result.Rows, 2)

		assert.True(t, result.Total().Equal(dec("10.005")))
		assert.Equal(t, idN(1), result.Rows[0].GoodsID)
		assert.True(t, result.Rows[0].Amount.Equal(dec("7.505")))
		assert.True(t, result.Rows[1].Amount.Equal(dec("2.50")))
	})
}

func TestEngine_SumPreservation(t *testing.T) {
	engine := newTestEngine(t)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		link := uuid.New()
		key := Key{RegistrarID: uuid.New(), CostCategoryID: uuid.New()}
		total := decimal.New(rng.Int63n(10_000_000)-2_000_000, -2)

		n := 1 + rng.Intn(40)
		candidates := make([]Candidate, 0, n)
		for i := 0; i < n; i++ {
			candidates = append(candidates, Candidate{
				LinkID:       link,
				GoodsID:      uuid.New(),
				DepartmentID: uuid.New(),
				Weight:       decimal.NullDecimal{Decimal: decimal.New(1+rng.Int63n(1_000_000), -3), Valid: true},
			})
		}

		result, err := engine.Compute(Snapshot{
			Type:       ExpenseTypeWarehouse,
			Window:     march(),
			Lines:      []ExpenseLine{{Key: key, LinkID: link, Date: march().Start.Add(36 * time.Hour), Amount: total}},
			Candidates: candidates,
		})
		require.NoError(t, err)
		require.Len(t, result.Rows, n)
		assert.True(t, result.Total().Equal(total), "round %d: got %s want %s", round, result.Total(), total)
		for _, r := range result.Rows {
			assert.LessOrEqual(t, -r.Amount.Exponent(), int32(2))
		}
	}
}

func TestEngine_DegenerateKey(t *testing.T) {
	engine := newTestEngine(t)
	doc := uuid.New()
	other := uuid.New()
	key := Key{RegistrarID: uuid.New(), CostCategoryID: uuid.New(), GoodsDocID: doc}
	okKey := Key{RegistrarID: uuid.New(), CostCategoryID: uuid.New(), GoodsDocID: other}

	result, err := engine.Compute(Snapshot{
		Type:   ExpenseTypeDirect,
		Window: march(),
		Lines: []ExpenseLine{
			{Key: key, LinkID: doc, Date: march().Start, Amount: dec("50")},
			{Key: okKey, LinkID: other, Date: march().Start, Amount: dec("20")},
		},
		Candidates: []Candidate{
			{LinkID: doc, GoodsID: uuid.New(), Weight: weight("0")},
			{LinkID: doc, GoodsID: uuid.New(), Weight: decimal.NullDecimal{}},
			{LinkID: doc, GoodsID: uuid.New(), Weight: weight("-5")},
			{LinkID: other, GoodsID: uuid.New(), Weight: weight("2")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Keys)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, okKey.RegistrarID, result.Rows[0].RegistrarID)
	require.Len(t, result.Degenerate, 1)
	assert.Equal(t, key, result.Degenerate[0].Key)
	assert.Equal(t, "2024-03", result.Degenerate[0].Month)
	assert.True(t, result.Degenerate[0].Total.Equal(dec("50")))
}

func TestEngine_ZeroWeightNeverReceives(t *testing.T) {
	engine := newTestEngine(t)
	dept := uuid.New()
	zero := uuid.New()

	result, err := engine.Compute(Snapshot{
		Type:   ExpenseTypeWarehouse,
		Window: march(),
		Lines: []ExpenseLine{
			{Key: Key{RegistrarID: uuid.New(), CostCategoryID: uuid.New()}, LinkID: dept, Date: march().Start, Amount: dec("9.99")},
		},
		Candidates: []Candidate{
			{LinkID: dept, GoodsID: zero, DepartmentID: dept, Weight: weight("0.00")},
			{LinkID: dept, GoodsID: uuid.New(), DepartmentID: dept, Weight: weight("1")},
			{LinkID: dept, GoodsID: uuid.New(), DepartmentID: dept, Weight: weight("2")},
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Rows, 2)
	for _, r := range result.Rows {
		assert.NotEqual(t, zero, r.GoodsID)
	}
	assert.True(t, result.Total().Equal(dec("9.99")))
}

func TestEngine_GroupsLinesByKey(t *testing.T) {
	engine := newTestEngine(t)
	link := uuid.Nil
	key := Key{RegistrarID: uuid.New(), CostCategoryID: uuid.New()}
	goods := uuid.New()
	early := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)

	result, err := engine.Compute(Snapshot{
		Type:   ExpenseTypeGeneral,
		Window: march(),
		Lines: []ExpenseLine{
			{Key: key, LinkID: link, Date: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), Amount: dec("70.10")},
			{Key: key, LinkID: link, Date: early, Amount: dec("29.90")},
			// outside the window, ignored
			{Key: key, LinkID: link, Date: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), Amount: dec("1000")},
		},
		Candidates: []Candidate{
			{LinkID: link, GoodsID: goods, DepartmentID: idN(1), Weight: weight("5")},
			// duplicate observation of the same goods/department counts once
			{LinkID: link, GoodsID: goods, DepartmentID: idN(1), Weight: weight("5")},
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Rows, 1)
	assert.Equal(t, 1, result.Keys)
	assert.Equal(t, early, result.Rows[0].Date)
	assert.True(t, result.Rows[0].Amount.Equal(dec("100.00")))
	assert.Equal(t, ExpenseTypeGeneral, result.Rows[0].Type)
}

func TestEngine_MergesCollidingRows(t *testing.T) {
	engine := newTestEngine(t)
	registrar, category := uuid.New(), uuid.New()
	docA, docB := uuid.New(), uuid.New()
	goods, dept := uuid.New(), uuid.New()
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	result, err := engine.Compute(Snapshot{
		Type:   ExpenseTypeDirect,
		Window: march(),
		Lines: []ExpenseLine{
			{Key: Key{registrar, category, docA}, LinkID: docA, Date: day, Amount: dec("10")},
			{Key: Key{registrar, category, docB}, LinkID: docB, Date: day, Amount: dec("15")},
		},
		Candidates: []Candidate{
			{LinkID: docA, GoodsID: goods, DepartmentID: dept, Weight: weight("1")},
			{LinkID: docB, GoodsID: goods, DepartmentID: dept, Weight: weight("1")},
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Rows, 1)
	assert.True(t, result.Rows[0].Amount.Equal(dec("25")))
	sums := sumByKey(result.Rows)
	assert.True(t, sums[[2]uuid.UUID{registrar, category}].Equal(dec("25")))
}

func TestEngine_Idempotent(t *testing.T) {
	engine := newTestEngine(t)
	link := uuid.New()
	lines := []ExpenseLine{
		{Key: Key{RegistrarID: idN(1), CostCategoryID: idN(2)}, LinkID: link, Date: march().Start, Amount: dec("1234.56")},
		{Key: Key{RegistrarID: idN(3), CostCategoryID: idN(2)}, LinkID: link, Date: march().Start, Amount: dec("-99.99")},
	}
	candidates := []Candidate{
		{LinkID: link, GoodsID: idN(7), DepartmentID: idN(5), Weight: weight("3.3")},
		{LinkID: link, GoodsID: idN(8), DepartmentID: idN(5), Weight: weight("1.1")},
		{LinkID: link, GoodsID: idN(9), DepartmentID: idN(6), Weight: weight("7")},
	}

	first, err := engine.Compute(Snapshot{Type: ExpenseTypeWarehouse, Window: march(), Lines: lines, Candidates: candidates})
	require.NoError(t, err)

	// shuffled input must not change the output
	reversedLines := []ExpenseLine{lines[1], lines[0]}
	reversedCandidates := []Candidate{candidates[2], candidates[1], candidates[0]}
	second, err := engine.Compute(Snapshot{Type: ExpenseTypeWarehouse, Window: march(), Lines: reversedLines, Candidates: reversedCandidates})
	require.NoError(t, err)

	require.Equal(t, len(first.Rows), len(second.Rows))
	for i := range first.Rows {
		assert.Equal(t, first.Rows[i].GoodsID, second.Rows[i].GoodsID)
		assert.Equal(t, first.Rows[i].RegistrarID, second.Rows[i].RegistrarID)
		assert.Equal(t, first.Rows[i].Amount.String(), second.Rows[i].Amount.String())
	}

	seen := make(map[rowKey]bool)
	for _, r := range first.Rows {
		assert.False(t, seen[r.key()], "duplicate composite key")
		seen[r.key()] = true
	}
}

func TestEngine_RejectsInvalidSnapshot(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Compute(Snapshot{Type: "other", Window: march()})
	assert.Error(t, err)

	_, err = engine.Compute(Snapshot{Type: ExpenseTypeDirect})
	assert.Error(t, err)

	result, err := engine.Compute(Snapshot{Type: ExpenseTypeDirect, Window: march()})
	require.NoError(t, err)
	assert.Empty(t, result.Rows)
	assert.Zero(t, result.Keys)
}
