package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/metrics"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	l := New(store, Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics.New(),
		Clock:   &stepClock{now: t0},
	})
	req := &models.Request{
		Code: "R1",
		Farm: &models.Farm{Name: "North field", OwnerName: "Ali", OwnerPhone: "0100"},
		Crop: &models.Crop{Name: "Wheat"},
		Varieties: []models.VarietyArea{
			{Variety: "wheat", Area: 10, Amount: 100},
			{Variety: "barley", Area: 2, Amount: 20},
		},
	}
	if _, err := l.Open(context.Background(), req); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l, store
}

func transfer(from, to *string, txType, variety string, amount float64) models.TraceabilityTransaction {
	return models.TraceabilityTransaction{
		From:            from,
		To:              to,
		User:            "u1",
		TransactionType: txType,
		Payload:         []models.Quantity{{Variety: variety, Amount: amount}},
	}
}

func TestOpen(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.Record(ctx, "R1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(rec.Charge) != 2 || rec.Charge[0].InitialAmount != 100 || rec.Charge[0].CurrentAmount != 100 {
		t.Errorf("unexpected charge %+v", rec.Charge)
	}
	if snap := rec.RequestData.Data(); snap.OwnerName != "Ali" || snap.CropName != "Wheat" {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	_, err = l.Open(ctx, &models.Request{Code: "R1"})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("second Open err = %v, want ErrExists", err)
	}
}

func TestAppendAndHoldings(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	e, err := l.Append(ctx, "R1", transfer(nil, hub("HubA"), models.TxChargeToStore, "wheat", 100))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.Seq != 0 || e.CreatedAt.IsZero() {
		t.Errorf("unexpected stored entry %+v", e)
	}
	if _, err := l.Append(ctx, "R1", transfer(hub("HubA"), hub("HubB"), models.TxStoreToDistributer, "wheat", 40)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	holdings, anomalies, err := l.CurrentHoldings(ctx, "R1")
	if err != nil {
		t.Fatalf("CurrentHoldings: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("unexpected anomalies %+v", anomalies)
	}
	if holdings.Amount("HubA", "wheat") != 60 || holdings.Amount("HubB", "wheat") != 40 {
		t.Errorf("unexpected holdings %+v", holdings)
	}

	remaining, anomalies, err := l.RemainingCharge(ctx, "R1")
	if err != nil {
		t.Fatalf("RemainingCharge: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("unexpected anomalies %+v", anomalies)
	}
	if remaining["wheat"] != 0 || remaining["barley"] != 20 {
		t.Errorf("unexpected remaining %+v", remaining)
	}
}

func TestAppendRecordsNegativeBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for _, e := range []models.TraceabilityTransaction{
		transfer(nil, hub("HubA"), models.TxChargeToStore, "wheat", 100),
		transfer(hub("HubA"), hub("HubB"), models.TxStoreToDistributer, "wheat", 40),
		transfer(hub("HubB"), hub("HubA"), models.TxStoreToDistributer, "wheat", 50),
	} {
		if _, err := l.Append(ctx, "R1", e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	holdings, anomalies, err := l.CurrentHoldings(ctx, "R1")
	if err != nil {
		t.Fatalf("CurrentHoldings: %v", err)
	}
	if got := holdings.Amount("HubB", "wheat"); got != -10 {
		t.Errorf("HubB wheat = %v, want -10", got)
	}
	if len(anomalies) != 1 || anomalies[0].Kind != AnomalyNegativeBalance {
		t.Errorf("unexpected anomalies %+v", anomalies)
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "R1", transfer(nil, nil, models.TxChargeToStore, "wheat", 1))
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("err = %v, want ErrInvalidEntry", err)
	}
	_, err = l.Append(ctx, "missing", transfer(nil, hub("HubA"), models.TxChargeToStore, "wheat", 1))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	rec, _ := store.Get(ctx, "R1")
	if len(rec.History) != 0 {
		t.Errorf("history has %d entries, want 0", len(rec.History))
	}
}

func TestTransferChecksBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		entry models.TraceabilityTransaction
		err   error
	}{
		{"release from pool", transfer(nil, hub("HubA"), models.TxChargeToStore, "wheat", 80), nil},
		{"pool exhausted", transfer(nil, hub("HubA"), models.TxAddCharge, "wheat", 21), ErrInsufficientBalance},
		{"uncharged variety", transfer(nil, hub("HubA"), models.TxAddCharge, "rice", 1), ErrInsufficientBalance},
		{"hub move", transfer(hub("HubA"), hub("HubB"), models.TxStoreToDistributer, "wheat", 80), nil},
		{"hub overdraw", transfer(hub("HubA"), hub("HubB"), models.TxStoreToDistributer, "wheat", 1), ErrInsufficientBalance},
		{"pool remainder", transfer(nil, hub("HubA"), models.TxAddCharge, "wheat", 20), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Transfer(ctx, "R1", tt.entry)
			if tt.err == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
		})
	}

	rec, err := l.Record(ctx, "R1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(rec.History) != 3 {
		t.Errorf("history has %d entries, want 3", len(rec.History))
	}
	for _, c := range rec.Charge {
		if c.CurrentAmount > c.InitialAmount {
			t.Errorf("%s current %v exceeds initial %v", c.Variety, c.CurrentAmount, c.InitialAmount)
		}
	}
}

func TestTransferRejectsBackdatedOverdraw(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Transfer(ctx, "R1", transfer(nil, hub("HubA"), models.TxChargeToStore, "wheat", 100)); err != nil {
		t.Fatalf("release: %v", err)
	}

	early := transfer(hub("HubA"), hub("HubB"), models.TxStoreToDistributer, "wheat", 50)
	early.CreatedAt = t0.Add(-time.Hour)
	if _, err := l.Transfer(ctx, "R1", early); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("backdated transfer err = %v, want ErrInsufficientBalance", err)
	}

	barley := transfer(nil, hub("HubA"), models.TxChargeToStore, "barley", 20)
	barley.CreatedAt = t0.Add(-2 * time.Hour)
	if _, err := l.Transfer(ctx, "R1", barley); err != nil {
		t.Fatalf("backdated release: %v", err)
	}
	covered := transfer(hub("HubA"), hub("HubB"), models.TxStoreToDistributer, "barley", 15)
	covered.CreatedAt = t0.Add(-time.Hour)
	if _, err := l.Transfer(ctx, "R1", covered); err != nil {
		t.Fatalf("covered backdated transfer: %v", err)
	}

	holdings, anomalies, err := l.CurrentHoldings(ctx, "R1")
	if err != nil {
		t.Fatalf("CurrentHoldings: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("unexpected anomalies: %+v", anomalies)
	}
	if got := holdings.Amount("HubA", "wheat"); got != 100 {
		t.Errorf("HubA wheat = %v, want 100", got)
	}
	if got := holdings.Amount("HubB", "barley"); got != 15 {
		t.Errorf("HubB barley = %v, want 15", got)
	}
}

func TestOpenMergesRepeatedVarieties(t *testing.T) {
	l := New(NewMemoryStore(), Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  &stepClock{now: t0},
	})
	ctx := context.Background()
	req := &models.Request{
		Code: "R2",
		Varieties: []models.VarietyArea{
			{Variety: "wheat", Area: 6, Amount: 60},
			{Variety: "wheat", Area: 4, Amount: 40},
		},
	}
	rec, err := l.Open(ctx, req)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(rec.Charge) != 1 || rec.Charge[0].InitialAmount != 100 || rec.Charge[0].Area != 10 {
		t.Fatalf("unexpected charge %+v", rec.Charge)
	}

	if _, err := l.Transfer(ctx, "R2", transfer(nil, hub("HubA"), models.TxChargeToStore, "wheat", 30)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	remaining, anomalies, err := l.RemainingCharge(ctx, "R2")
	if err != nil {
		t.Fatalf("RemainingCharge: %v", err)
	}
	if got := remaining["wheat"]; got != 70 {
		t.Errorf("remaining wheat = %v, want 70", got)
	}
	if len(anomalies) != 0 {
		t.Errorf("unexpected anomalies: %+v", anomalies)
	}
}

func TestStoreVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &models.Traceability{Code: "R1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	e := transfer(nil, hub("HubA"), models.TxChargeToStore, "wheat", 1)
	if err := store.Append(ctx, "R1", 0, &e, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	stale := transfer(nil, hub("HubA"), models.TxChargeToStore, "wheat", 1)
	if err := store.Append(ctx, "R1", 0, &stale, nil); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
}

func TestConcurrentAppends(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Transfer(ctx, "R1", transfer(nil, hub("HubA"), models.TxAddCharge, "wheat", 2))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Transfer: %v", err)
		}
	}

	rec, err := l.Record(ctx, "R1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(rec.History) != n {
		t.Fatalf("history has %d entries, want %d", len(rec.History), n)
	}
	seen := make(map[int]bool)
	for _, e := range rec.History {
		if seen[e.Seq] {
			t.Fatalf("duplicate seq %d", e.Seq)
		}
		seen[e.Seq] = true
	}
	if rec.Charge[0].CurrentAmount != 0 {
		t.Errorf("wheat current amount = %v, want 0", rec.Charge[0].CurrentAmount)
	}
}

func TestUnknownCodeReads(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	holdings, _, err := l.CurrentHoldings(ctx, "nope")
	if err != nil || len(holdings) != 0 {
		t.Errorf("CurrentHoldings = %v, %v", holdings, err)
	}
	hops, err := l.ChainForVariety(ctx, "nope", "wheat")
	if err != nil || hops == nil || len(hops) != 0 {
		t.Errorf("ChainForVariety = %#v, %v", hops, err)
	}
}

func TestAudit(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Append(ctx, "R1", transfer(nil, hub("HubA"), models.TxChargeToStore, "wheat", 10)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// A record whose cached charge was never decremented.
	broken := &models.Traceability{
		Code:   "R2",
		Charge: []models.ChargeEntry{{Variety: "wheat", InitialAmount: 50, CurrentAmount: 50}},
		History: []models.TraceabilityTransaction{
			{To: hub("HubA"), TransactionType: models.TxChargeToStore, Payload: []models.Quantity{{Variety: "wheat", Amount: 20}}, CreatedAt: t0},
		},
	}
	if err := store.Create(ctx, broken); err != nil {
		t.Fatalf("Create: %v", err)
	}

	audits, err := l.Audit(ctx)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(audits) != 2 {
		t.Fatalf("got %d audits, want 2", len(audits))
	}
	if audits[0].Code != "R1" || len(audits[0].Anomalies) != 0 {
		t.Errorf("R1 audit = %+v", audits[0])
	}
	if audits[1].Code != "R2" || len(audits[1].Anomalies) != 1 || audits[1].Anomalies[0].Kind != AnomalyChargeMismatch {
		t.Errorf("R2 audit = %+v", audits[1])
	}
}
