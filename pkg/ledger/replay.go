package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"p9e.in/takweed/models"
)

// epsilon absorbs float noise when comparing running balances.
const epsilon = 1e-9

// ErrInvalidEntry is returned for history entries that cannot be replayed.
var ErrInvalidEntry = errors.New("invalid history entry")

// Anomaly kinds.
const (
	AnomalyNegativeBalance  = "negative_balance"
	AnomalyChargeMismatch   = "charge_mismatch"
	AnomalyMalformedEntry   = "malformed_entry"
	AnomalyUnchargedVariety = "uncharged_variety"
)

// Anomaly is a data-integrity finding. Anomalies never abort a replay.
type Anomaly struct {
	Kind     string  `json:"kind"`
	Code     string  `json:"code"`
	Seq      int     `json:"seq"`
	Hub      string  `json:"hub,omitempty"`
	Variety  string  `json:"variety,omitempty"`
	Expected float64 `json:"expected,omitempty"`
	Actual   float64 `json:"actual,omitempty"`
	Message  string  `json:"message"`
}

// Holdings maps hub id to variety to amount.
type Holdings map[string]map[string]float64

// Amount is the holding of variety at hub, 0 when absent.
func (h Holdings) Amount(hub, variety string) float64 {
	return h[hub][variety]
}

func (h Holdings) add(hub, variety string, amount float64) float64 {
	m, ok := h[hub]
	if !ok {
		m = make(map[string]float64)
		h[hub] = m
	}
	m[variety] += amount
	return m[variety]
}

// Hop is one transfer of a single variety, for audit display.
type Hop struct {
	Seq             int       `json:"seq"`
	From            *string   `json:"from"`
	To              *string   `json:"to"`
	Amount          float64   `json:"amount"`
	Date            time.Time `json:"date"`
	TransactionType string    `json:"transactionType"`
	User            string    `json:"user,omitempty"`
}

// ValidateEntry reports why e cannot be replayed, or nil.
func ValidateEntry(e *models.TraceabilityTransaction) error {
	if e.From == nil && e.To == nil {
		return fmt.Errorf("%w: neither from nor to is set", ErrInvalidEntry)
	}
	if !models.KnownTransactionType(e.TransactionType) {
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidEntry, e.TransactionType)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidEntry)
	}
	for i, q := range e.Payload {
		if q.Variety == "" {
			return fmt.Errorf("%w: payload line %d has no variety", ErrInvalidEntry, i)
		}
		if q.Amount < 0 || math.IsNaN(q.Amount) || math.IsInf(q.Amount, 0) {
			return fmt.Errorf("%w: payload line %d has invalid amount %v", ErrInvalidEntry, i, q.Amount)
		}
	}
	return nil
}

// chronological returns history ordered by CreatedAt, keeping stored order
// for equal timestamps.
func chronological(history []models.TraceabilityTransaction) []models.TraceabilityTransaction {
	out := append([]models.TraceabilityTransaction(nil), history...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Replay folds history into per-hub holdings. A nil From releases from the
// charge pool and a nil To leaves the tracked hubs; neither touches a hub.
// Malformed entries are skipped and negative balances are kept as they
// are, each reported as an anomaly. Replay does not modify history.
func Replay(code string, history []models.TraceabilityTransaction) (Holdings, []Anomaly) {
	holdings := make(Holdings)
	var anomalies []Anomaly

	for _, e := range chronological(history) {
		if err := ValidateEntry(&e); err != nil {
			anomalies = append(anomalies, Anomaly{
				Kind:    AnomalyMalformedEntry,
				Code:    code,
				Seq:     e.Seq,
				Message: err.Error(),
			})
			continue
		}
		for _, q := range e.Payload {
			if e.From != nil {
				left := holdings.add(*e.From, q.Variety, -q.Amount)
				if left < -epsilon {
					anomalies = append(anomalies, Anomaly{
						Kind:    AnomalyNegativeBalance,
						Code:    code,
						Seq:     e.Seq,
						Hub:     *e.From,
						Variety: q.Variety,
						Actual:  left,
						Message: fmt.Sprintf("hub %s holds %.4f %s after entry %d", *e.From, left, q.Variety, e.Seq),
					})
				}
			}
			if e.To != nil {
				holdings.add(*e.To, q.Variety, q.Amount)
			}
		}
	}
	return holdings, anomalies
}

// Chain lists the transfers of variety, most recent first. Entries stored
// later come first when timestamps are equal.
func Chain(history []models.TraceabilityTransaction, variety string) []Hop {
	hops := []Hop{}
	for _, e := range chronological(history) {
		if ValidateEntry(&e) != nil {
			continue
		}
		amount, touched := 0.0, false
		for _, q := range e.Payload {
			if q.Variety == variety {
				amount += q.Amount
				touched = true
			}
		}
		if !touched {
			continue
		}
		hops = append(hops, Hop{
			Seq:             e.Seq,
			From:            e.From,
			To:              e.To,
			Amount:          amount,
			Date:            e.CreatedAt,
			TransactionType: e.TransactionType,
			User:            e.User,
		})
	}
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return hops
}

// Remaining computes, per charged variety, the initial amount less every
// quantity released from the charge pool, and compares it with the stored
// CurrentAmount.
func Remaining(code string, charge []models.ChargeEntry, history []models.TraceabilityTransaction) (map[string]float64, []Anomaly) {
	released := make(map[string]float64)
	for _, e := range history {
		if e.From != nil || ValidateEntry(&e) != nil {
			continue
		}
		for _, q := range e.Payload {
			released[q.Variety] += q.Amount
		}
	}

	// Several charge entries of one variety share a single pool.
	initial := make(map[string]float64, len(charge))
	current := make(map[string]float64, len(charge))
	var varieties []string
	for _, c := range charge {
		if _, ok := initial[c.Variety]; !ok {
			varieties = append(varieties, c.Variety)
		}
		initial[c.Variety] += c.InitialAmount
		current[c.Variety] += c.CurrentAmount
	}

	remaining := make(map[string]float64, len(varieties))
	var anomalies []Anomaly
	for _, variety := range varieties {
		left := initial[variety] - released[variety]
		remaining[variety] = left
		if math.Abs(left-current[variety]) > epsilon {
			anomalies = append(anomalies, Anomaly{
				Kind:     AnomalyChargeMismatch,
				Code:     code,
				Seq:      -1,
				Variety:  variety,
				Expected: left,
				Actual:   current[variety],
				Message:  fmt.Sprintf("stored current amount %.4f of %s differs from replayed %.4f", current[variety], variety, left),
			})
		}
	}
	for variety, amount := range released {
		if _, ok := remaining[variety]; !ok {
			anomalies = append(anomalies, Anomaly{
				Kind:    AnomalyUnchargedVariety,
				Code:    code,
				Seq:     -1,
				Variety: variety,
				Actual:  amount,
				Message: fmt.Sprintf("%.4f of %s released without a charge entry", amount, variety),
			})
		}
	}
	sort.SliceStable(anomalies, func(i, j int) bool { return anomalies[i].Variety < anomalies[j].Variety })
	return remaining, anomalies
}
