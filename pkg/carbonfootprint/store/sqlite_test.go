package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

func openHistory(t *testing.T) *SQLiteHistory {
	t.Helper()
	h, err := NewSQLiteHistory(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func entryAt(ts time.Time, outcome string) types.HistoryEntry {
	return types.HistoryEntry{
		ID:                     uuid.NewString(),
		Timestamp:              ts,
		Model:                  "gpt-x",
		Outcome:                outcome,
		CarbonFootprintKg:      0.05,
		EnergyConsumptionWh:    100,
		CarbonIntensityGPerKwh: 500,
		GridIntensity:          475,
	}
}

func TestStoreAndRecent(t *testing.T) {
	h := openHistory(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := entryAt(base, "success")
	first.BackendEnergyKwh = ptr.To(0.1)
	second := entryAt(base.Add(time.Minute), "timeout")
	second.CarbonFootprintKg = 0
	third := entryAt(base.Add(2*time.Minute), "failure")
	third.Reason = "no non-zero entry found"

	for _, e := range []types.HistoryEntry{first, second, third} {
		require.NoError(t, h.Store(e))
	}

	entries, err := h.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, third.ID, entries[0].ID)
	assert.Equal(t, "no non-zero entry found", entries[0].Reason)
	assert.Equal(t, second.ID, entries[1].ID)
	assert.Nil(t, entries[1].BackendEnergyKwh)

	entries, err = h.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	last := entries[2]
	assert.Equal(t, first.ID, last.ID)
	assert.True(t, base.Equal(last.Timestamp))
	require.NotNil(t, last.BackendEnergyKwh)
	assert.Equal(t, 0.1, *last.BackendEnergyKwh)
	assert.Equal(t, 500.0, last.CarbonIntensityGPerKwh)
	assert.Equal(t, 475.0, last.GridIntensity)
}

func TestRecentZeroLimit(t *testing.T) {
	h := openHistory(t)
	require.NoError(t, h.Store(entryAt(time.Now(), "success")))

	entries, err := h.Recent(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreRejectsDuplicateID(t *testing.T) {
	h := openHistory(t)
	e := entryAt(time.Now(), "success")
	require.NoError(t, h.Store(e))
	assert.Error(t, h.Store(e))
}

func TestCleanup(t *testing.T) {
	h := openHistory(t)
	now := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)

	require.NoError(t, h.Store(entryAt(now.Add(-45*24*time.Hour), "success")))
	require.NoError(t, h.Store(entryAt(now.Add(-31*24*time.Hour), "failure")))
	keep := entryAt(now.Add(-time.Hour), "success")
	require.NoError(t, h.Store(keep))

	removed, err := h.Cleanup(now.Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	entries, err := h.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, keep.ID, entries[0].ID)
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	h, err := NewSQLiteHistory(path)
	require.NoError(t, err)
	e := entryAt(time.Now(), "success")
	require.NoError(t, h.Store(e))
	require.NoError(t, h.Close())

	h, err = NewSQLiteHistory(path)
	require.NoError(t, err)
	defer h.Close()

	entries, err := h.Recent(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e.ID, entries[0].ID)
}
