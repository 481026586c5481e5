package points

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

type pointsKey struct {
	customerID int64
	programID  int64
}

type memoryState struct {
	programs map[int64]Program
	tiers    map[int64]Tier
	points   map[pointsKey]CustomerPoints
	logs     []Log
	credits  map[int64]decimal.Decimal
	ledger   []CreditEntry
	nextID   int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		programs: make(map[int64]Program, len(s.programs)),
		tiers:    make(map[int64]Tier, len(s.tiers)),
		points:   make(map[pointsKey]CustomerPoints, len(s.points)),
		logs:     append([]Log(nil), s.logs...),
		credits:  make(map[int64]decimal.Decimal, len(s.credits)),
		ledger:   append([]CreditEntry(nil), s.ledger...),
		nextID:   s.nextID,
	}
	for k, v := range s.programs {
		out.programs[k] = v
	}
	for k, v := range s.tiers {
		out.tiers[k] = v
	}
	for k, v := range s.points {
		out.points[k] = v
	}
	for k, v := range s.credits {
		out.credits[k] = v
	}
	return out
}

// MemoryRepository keeps the points ledger in process memory.
type MemoryRepository struct {
	mu    sync.Mutex
	state memoryState
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: memoryState{}.clone()}
}

type memoryTx struct {
	state *memoryState
}

// WithTx runs fn against a copy of the state and publishes it only on success.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{state: &working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

// GetProgram implements RepositoryPort.
func (r *MemoryRepository) GetProgram(_ context.Context, id int64) (Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.state.programs[id]
	if !ok {
		return Program{}, ErrProgramNotFound
	}
	return p, nil
}

// ListTiers implements RepositoryPort.
func (r *MemoryRepository) ListTiers(_ context.Context, programID int64) ([]Tier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tiers := []Tier{}
	for _, t := range r.state.tiers {
		if t.ProgramID == programID {
			tiers = append(tiers, t)
		}
	}
	sort.Slice(tiers, func(i, j int) bool {
		if tiers[i].PointsRequired != tiers[j].PointsRequired {
			return tiers[i].PointsRequired < tiers[j].PointsRequired
		}
		return tiers[i].ID < tiers[j].ID
	})
	return tiers, nil
}

// GetPoints implements RepositoryPort.
func (r *MemoryRepository) GetPoints(_ context.Context, customerID, programID int64) (CustomerPoints, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.state.points[pointsKey{customerID, programID}]
	if !ok {
		return CustomerPoints{CustomerID: customerID, ProgramID: programID, EstimatedCost: decimal.Zero}, nil
	}
	return cp, nil
}

// ListLog implements RepositoryPort.
func (r *MemoryRepository) ListLog(_ context.Context, customerID, programID int64, limit int) ([]Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Log{}
	for i := len(r.state.logs) - 1; i >= 0 && len(out) < limit; i-- {
		l := r.state.logs[i]
		if l.CustomerID == customerID && l.ProgramID == programID {
			out = append(out, l)
		}
	}
	return out, nil
}

// CreditBalance implements RepositoryPort.
func (r *MemoryRepository) CreditBalance(_ context.Context, customerID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, ok := r.state.credits[customerID]
	if !ok {
		return decimal.Zero, nil
	}
	return balance, nil
}

// ListCredit implements RepositoryPort.
func (r *MemoryRepository) ListCredit(_ context.Context, customerID int64, limit int) ([]CreditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []CreditEntry{}
	for i := len(r.state.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if r.state.ledger[i].CustomerID == customerID {
			out = append(out, r.state.ledger[i])
		}
	}
	return out, nil
}

// SetBalance overwrites a customer's point balance.
func (r *MemoryRepository) SetBalance(customerID, programID, balance int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pointsKey{customerID, programID}
	cp, ok := r.state.points[key]
	if !ok {
		cp = CustomerPoints{CustomerID: customerID, ProgramID: programID, EstimatedCost: decimal.Zero}
	}
	cp.Balance = balance
	r.state.points[key] = cp
}

func (tx *memoryTx) id() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *memoryTx) InsertProgram(_ context.Context, p Program) (Program, error) {
	p.ID = tx.id()
	tx.state.programs[p.ID] = p
	return p, nil
}

func (tx *memoryTx) InsertTier(_ context.Context, t Tier) (Tier, error) {
	t.ID = tx.id()
	tx.state.tiers[t.ID] = t
	return t, nil
}

func (tx *memoryTx) GetProgram(_ context.Context, id int64) (Program, error) {
	p, ok := tx.state.programs[id]
	if !ok {
		return Program{}, ErrProgramNotFound
	}
	return p, nil
}

func (tx *memoryTx) GetTier(_ context.Context, id int64) (Tier, error) {
	t, ok := tx.state.tiers[id]
	if !ok {
		return Tier{}, ErrTierNotFound
	}
	return t, nil
}

func (tx *memoryTx) LockPoints(_ context.Context, customerID, programID int64) (CustomerPoints, error) {
	key := pointsKey{customerID, programID}
	cp, ok := tx.state.points[key]
	if !ok {
		cp = CustomerPoints{CustomerID: customerID, ProgramID: programID, EstimatedCost: decimal.Zero}
		tx.state.points[key] = cp
	}
	return cp, nil
}

func (tx *memoryTx) SavePoints(_ context.Context, cp CustomerPoints) error {
	tx.state.points[pointsKey{cp.CustomerID, cp.ProgramID}] = cp
	return nil
}

func (tx *memoryTx) AppendLog(_ context.Context, l Log) (Log, error) {
	l.ID = tx.id()
	tx.state.logs = append(tx.state.logs, l)
	return l, nil
}

func (tx *memoryTx) FindLog(_ context.Context, customerID, programID int64, kind Kind, refType string, refID int64) (Log, bool, error) {
	for _, l := range tx.state.logs {
		if l.CustomerID == customerID && l.ProgramID == programID && l.Kind == kind && l.RefType == refType && l.RefID == refID {
			return l, true, nil
		}
	}
	return Log{}, false, nil
}

func (tx *memoryTx) LockCredit(_ context.Context, customerID int64) (decimal.Decimal, error) {
	balance, ok := tx.state.credits[customerID]
	if !ok {
		return decimal.Zero, nil
	}
	return balance, nil
}

func (tx *memoryTx) SaveCredit(_ context.Context, customerID int64, balance decimal.Decimal) error {
	tx.state.credits[customerID] = balance
	return nil
}

func (tx *memoryTx) AppendCredit(_ context.Context, c CreditEntry) (CreditEntry, error) {
	c.ID = tx.id()
	tx.state.ledger = append(tx.state.ledger, c)
	return c, nil
}
