package report

import (
	"context"
	"errors"
	"sort"
	"time"

	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/ledger"
	"p9e.in/takweed/utils"
)

// TransactionRow is one payload line of a history entry with its hubs
// resolved.
type TransactionRow struct {
	Seq             int       `json:"seq"`
	Date            time.Time `json:"date"`
	TransactionType string    `json:"transactionType"`
	FromID          string    `json:"fromId,omitempty"`
	FromName        string    `json:"fromName,omitempty"`
	FromTier        string    `json:"fromTier,omitempty"`
	ToID            string    `json:"toId,omitempty"`
	ToName          string    `json:"toName,omitempty"`
	ToTier          string    `json:"toTier,omitempty"`
	Variety         string    `json:"variety"`
	Amount          float64   `json:"amount"`
	User            string    `json:"user,omitempty"`
}

func (ref *reference) hub(id *string) (string, string, string) {
	if id == nil {
		return "", "", ""
	}
	h, ok := ref.hubs[*id]
	if !ok {
		return *id, *id, ""
	}
	return *id, h.Name, h.Tier
}

func transactionRows(history []models.TraceabilityTransaction, ref *reference) []TransactionRow {
	rows := []TransactionRow{}
	for _, e := range history {
		fromID, fromName, fromTier := ref.hub(e.From)
		toID, toName, toTier := ref.hub(e.To)
		for _, q := range e.Payload {
			rows = append(rows, TransactionRow{
				Seq:             e.Seq,
				Date:            e.CreatedAt,
				TransactionType: e.TransactionType,
				FromID:          fromID,
				FromName:        fromName,
				FromTier:        fromTier,
				ToID:            toID,
				ToName:          toName,
				ToTier:          toTier,
				Variety:         q.Variety,
				Amount:          utils.Round2(q.Amount),
				User:            e.User,
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.After(rows[j].Date)
		}
		return rows[i].Seq > rows[j].Seq
	})
	return rows
}

// TransactionExport lists the history of code newest first. An unknown
// code yields no rows.
func (a *Aggregator) TransactionExport(ctx context.Context, code string) ([]TransactionRow, error) {
	start := time.Now()
	defer a.metrics.ObserveReport("transactions", start)

	ref, err := a.loadReference(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := a.ledgers.Get(ctx, code)
	if errors.Is(err, ledger.ErrNotFound) {
		return []TransactionRow{}, nil
	}
	if err != nil {
		return nil, err
	}
	return transactionRows(rec.History, ref), nil
}

// ChargeLine is one charged variety with the amount still in the pool.
type ChargeLine struct {
	Variety       string  `json:"variety"`
	Area          float64 `json:"area"`
	InitialAmount float64 `json:"initialAmount"`
	CurrentAmount float64 `json:"currentAmount"`
	Remaining     float64 `json:"remaining"`
}

// HubHolding is what one hub currently holds.
type HubHolding struct {
	HubID    string             `json:"hubId"`
	Name     string             `json:"name"`
	Tier     string             `json:"tier,omitempty"`
	Holdings map[string]float64 `json:"holdings"`
}

// Custody is the full chain-of-custody view of one request.
type Custody struct {
	Code         string                 `json:"code"`
	Request      models.RequestSnapshot `json:"request"`
	Charge       []ChargeLine           `json:"charge"`
	Stores       []HubHolding           `json:"stores"`
	Distributers []HubHolding           `json:"distributers"`
	Exports      []HubHolding           `json:"exports"`
	Unassigned   []HubHolding           `json:"unassigned,omitempty"`
	History      []TransactionRow       `json:"history"`
	Warnings     []ledger.Anomaly       `json:"warnings"`
}

// ChainOfCustody replays the ledger of code and groups current holdings by
// hub tier. It returns ledger.ErrNotFound for an unknown code.
func (a *Aggregator) ChainOfCustody(ctx context.Context, code string) (*Custody, error) {
	start := time.Now()
	defer a.metrics.ObserveReport("custody", start)

	ref, err := a.loadReference(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := a.ledgers.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	holdings, replayed := ledger.Replay(code, rec.History)
	remaining, charged := ledger.Remaining(code, rec.Charge, rec.History)

	c := &Custody{
		Code:         code,
		Request:      rec.RequestData.Data(),
		Charge:       make([]ChargeLine, 0, len(rec.Charge)),
		Stores:       []HubHolding{},
		Distributers: []HubHolding{},
		Exports:      []HubHolding{},
		History:      transactionRows(rec.History, ref),
		Warnings:     append(append([]ledger.Anomaly{}, replayed...), charged...),
	}
	for _, ch := range rec.Charge {
		c.Charge = append(c.Charge, ChargeLine{
			Variety:       ch.Variety,
			Area:          utils.Round2(ch.Area),
			InitialAmount: utils.Round2(ch.InitialAmount),
			CurrentAmount: utils.Round2(ch.CurrentAmount),
			Remaining:     utils.Round2(remaining[ch.Variety]),
		})
	}

	hubIDs := make([]string, 0, len(holdings))
	for id := range holdings {
		hubIDs = append(hubIDs, id)
	}
	sort.Strings(hubIDs)
	for _, id := range hubIDs {
		hubID := id
		_, name, tier := ref.hub(&hubID)
		h := HubHolding{HubID: id, Name: name, Tier: tier, Holdings: make(map[string]float64)}
		for variety, amount := range holdings[id] {
			h.Holdings[variety] = utils.Round2(amount)
		}
		switch tier {
		case models.HubTierStore:
			c.Stores = append(c.Stores, h)
		case models.HubTierDistributer:
			c.Distributers = append(c.Distributers, h)
		case models.HubTierExport:
			c.Exports = append(c.Exports, h)
		default:
			c.Unassigned = append(c.Unassigned, h)
		}
	}

	for _, w := range c.Warnings {
		a.metrics.RecordAnomaly(w.Kind)
	}
	return c, nil
}
