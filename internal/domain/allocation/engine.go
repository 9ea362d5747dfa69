package allocation

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// DefaultPrecision is the number of decimal places of published amounts
	DefaultPrecision int32 = 2
	// MaxPrecision bounds the configurable precision
	MaxPrecision int32 = 6
	// guardDigits is the extra precision used for ratios before final rounding
	guardDigits int32 = 8
)

// Engine distributes expense totals over goods proportionally to their weight.
// Shares are rounded half away from zero and the rounding remainder of every
// key is pushed back onto the highest ranked candidates so each key sums to
// its exact total.
type Engine struct {
	precision int32
	increment decimal.Decimal
}

// NewEngine creates an engine publishing amounts with the given precision
func NewEngine(precision int32) (*Engine, error) {
	if precision < 0 || precision > MaxPrecision {
		return nil, fmt.Errorf("allocation precision must be between 0 and %d, got %d", MaxPrecision, precision)
	}
	return &Engine{
		precision: precision,
		increment: decimal.New(1, -precision),
	}, nil
}

// Precision returns the configured number of decimal places
func (e *Engine) Precision() int32 {
	return e.precision
}

// Increment returns the smallest currency unit, 10^-precision
func (e *Engine) Increment() decimal.Decimal {
	return e.increment
}

type keyGroup struct {
	key   Key
	total decimal.Decimal
	date  time.Time
	dated bool
	links []uuid.UUID
}

type share struct {
	candidate Candidate
	rounded   decimal.Decimal
}

// Compute runs the allocation for one (month, class) snapshot.
// Lines outside the snapshot window are ignored. The result is deterministic
// for a given snapshot regardless of the order of lines and candidates.
func (e *Engine) Compute(s Snapshot) (*Result, error) {
	if !s.Type.IsValid() {
		return nil, fmt.Errorf("unknown expense type %q", s.Type)
	}
	if s.Window.IsZero() || !s.Window.Start.Before(s.Window.End) {
		return nil, fmt.Errorf("invalid allocation window %v - %v", s.Window.Start, s.Window.End)
	}

	groups := e.groupLines(s)
	pool := indexCandidates(s.Candidates)

	result := &Result{Type: s.Type, Window: s.Window, Keys: len(groups)}
	merged := make(map[rowKey]int)

	for _, g := range groups {
		candidates := collect(pool, g.links)
		if len(candidates) == 0 {
			result.Degenerate = append(result.Degenerate, DegenerateKeyWarning{
				Type:   s.Type,
				Month:  s.Window.Label(),
				Key:    g.key,
				Total:  g.total,
				Reason: "no goods with positive weight linked to key",
			})
			continue
		}

		for _, sh := range e.distribute(g.total, candidates) {
			row := Row{
				Type:           s.Type,
				RegistrarID:    g.key.RegistrarID,
				GoodsID:        sh.candidate.GoodsID,
				DepartmentID:   sh.candidate.DepartmentID,
				CostCategoryID: g.key.CostCategoryID,
				Date:           g.date,
				Amount:         sh.rounded,
			}
			if idx, ok := merged[row.key()]; ok {
				result.Rows[idx].Amount = result.Rows[idx].Amount.Add(row.Amount)
				continue
			}
			merged[row.key()] = len(result.Rows)
			result.Rows = append(result.Rows, row)
		}
	}

	sort.SliceStable(result.Rows, func(i, j int) bool {
		return result.Rows[i].less(result.Rows[j])
	})
	return result, nil
}

// groupLines totals the in-window lines per key, keeping the earliest date
// and the distinct link ids of each key
func (e *Engine) groupLines(s Snapshot) []*keyGroup {
	byKey := make(map[Key]*keyGroup)
	for _, line := range s.Lines {
		if !s.Window.Contains(line.Date) {
			continue
		}
		g, ok := byKey[line.Key]
		if !ok {
			g = &keyGroup{key: line.Key, total: decimal.Zero}
			byKey[line.Key] = g
		}
		g.total = g.total.Add(line.Amount)
		if !g.dated || line.Date.Before(g.date) {
			g.date = line.Date
			g.dated = true
		}
		if !containsID(g.links, line.LinkID) {
			g.links = append(g.links, line.LinkID)
		}
	}

	groups := make([]*keyGroup, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].key.less(groups[j].key)
	})
	return groups
}

type candidateID struct {
	goods      uuid.UUID
	department uuid.UUID
}

// indexCandidates drops ineligible weights and duplicates per link
func indexCandidates(candidates []Candidate) map[uuid.UUID][]Candidate {
	pool := make(map[uuid.UUID][]Candidate)
	seen := make(map[uuid.UUID]map[candidateID]struct{})
	for _, c := range candidates {
		if !c.eligible() {
			continue
		}
		if seen[c.LinkID] == nil {
			seen[c.LinkID] = make(map[candidateID]struct{})
		}
		id := candidateID{c.GoodsID, c.DepartmentID}
		if _, dup := seen[c.LinkID][id]; dup {
			continue
		}
		seen[c.LinkID][id] = struct{}{}
		pool[c.LinkID] = append(pool[c.LinkID], c)
	}
	return pool
}

// collect unions the candidate sets of the given links
func collect(pool map[uuid.UUID][]Candidate, links []uuid.UUID) []Candidate {
	var out []Candidate
	seen := make(map[candidateID]struct{})
	for _, link := range links {
		for _, c := range pool[link] {
			id := candidateID{c.GoodsID, c.DepartmentID}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// distribute computes rounded proportional shares and applies the remainder
// correction. The returned shares are ordered by rank.
func (e *Engine) distribute(total decimal.Decimal, candidates []Candidate) []share {
	sumWeight := decimal.Zero
	for _, c := range candidates {
		sumWeight = sumWeight.Add(c.Weight.Decimal)
	}

	shares := make([]share, len(candidates))
	sumRounded := decimal.Zero
	for i, c := range candidates {
		raw := total.Mul(c.Weight.Decimal).DivRound(sumWeight, e.precision+guardDigits)
		rounded := raw.Round(e.precision)
		shares[i] = share{candidate: c, rounded: rounded}
		sumRounded = sumRounded.Add(rounded)
	}

	sort.SliceStable(shares, func(i, j int) bool {
		a, b := shares[i], shares[j]
		if c := a.rounded.Cmp(b.rounded); c != 0 {
			return c > 0
		}
		if c := bytes.Compare(a.candidate.GoodsID[:], b.candidate.GoodsID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.candidate.DepartmentID[:], b.candidate.DepartmentID[:]) < 0
	})

	diff := total.Sub(sumRounded)
	if diff.IsZero() {
		return shares
	}

	sign := decimal.NewFromInt(1)
	if diff.IsNegative() {
		sign = decimal.NewFromInt(-1)
	}
	abs := diff.Abs()
	k := abs.Shift(e.precision).Floor().IntPart()
	extra := abs.Sub(decimal.NewFromInt(k).Mul(e.increment))

	n := int64(len(shares))
	base := decimal.NewFromInt(k / n).Mul(e.increment)
	for i := range shares {
		rank := int64(i + 1)
		delta := base
		if rank <= k%n {
			delta = delta.Add(e.increment)
		}
		if rank == 1 {
			delta = delta.Add(extra)
		}
		if !delta.IsZero() {
			shares[i].rounded = shares[i].rounded.Add(delta.Mul(sign))
		}
	}
	return shares
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
