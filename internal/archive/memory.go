package archive

import (
	"context"
	"strings"
	"sync"
	"time"

	"tote-relay/internal/model"
)

type memoryRecord struct {
	takenAt time.Time
	stock   model.Stock
}

// Memory is a process-local Store. Its contents are lost on restart.
type Memory struct {
	mu   sync.RWMutex
	days map[string]map[string]memoryRecord // date -> upper(symbol) -> record
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{days: make(map[string]map[string]memoryRecord)}
}

// Save stores every stock of snap under its trading day. A record already
// held for the same day and symbol is replaced only if it was not taken
// after snap.
func (m *Memory) Save(_ context.Context, snap Snapshot) error {
	key := TradingDay(snap.TakenAt).Format(time.DateOnly)

	m.mu.Lock()
	defer m.mu.Unlock()

	day, ok := m.days[key]
	if !ok {
		day = make(map[string]memoryRecord, len(snap.Stocks))
		m.days[key] = day
	}
	for _, s := range snap.Stocks {
		sym := strings.ToUpper(s.SecuritySymbol)
		if prev, ok := day[sym]; ok && prev.takenAt.After(snap.TakenAt) {
			continue
		}
		day[sym] = memoryRecord{takenAt: snap.TakenAt, stock: s}
	}
	return nil
}

// Find returns the record of symbol on day, or an empty slice.
func (m *Memory) Find(_ context.Context, symbol string, day time.Time) ([]model.Stock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []model.Stock{}
	if rec, ok := m.days[day.Format(time.DateOnly)][strings.ToUpper(symbol)]; ok {
		out = append(out, rec.stock)
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() {}
