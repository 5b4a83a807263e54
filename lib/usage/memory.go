// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"sort"
	"sync"
)

type rowKey struct {
	tenantID string
	date     string
}

type memoryRow struct {
	mutex  sync.Mutex
	record Record
}

// Memory is an in-process Store.
type Memory struct {
	// mutex guards the rows map itself; each row's counters are
	// guarded by the row's own mutex.
	mutex sync.Mutex
	rows  map[rowKey]*memoryRow
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[rowKey]*memoryRow)}
}

func (m *Memory) row(tenantID, date string) *memoryRow {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	key := rowKey{tenantID: tenantID, date: date}
	row, ok := m.rows[key]
	if !ok {
		row = &memoryRow{record: Record{TenantID: tenantID, Date: date}}
		m.rows[key] = row
	}
	return row
}

func (m *Memory) Add(_ context.Context, delta Record) error {
	row := m.row(delta.TenantID, delta.Date)
	row.mutex.Lock()
	row.record.add(delta)
	row.mutex.Unlock()
	return nil
}

func (m *Memory) Range(_ context.Context, tenantID, from, to string) ([]Record, error) {
	m.mutex.Lock()
	var rows []*memoryRow
	for key, row := range m.rows {
		if key.tenantID == tenantID && key.date >= from && key.date <= to {
			rows = append(rows, row)
		}
	}
	m.mutex.Unlock()

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		row.mutex.Lock()
		records = append(records, row.record)
		row.mutex.Unlock()
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })
	return records, nil
}

func (m *Memory) Delete(_ context.Context, tenantID, date string) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	removed := 0
	for key := range m.rows {
		if key.tenantID == tenantID && (date == "" || key.date == date) {
			delete(m.rows, key)
			removed++
		}
	}
	return removed, nil
}
