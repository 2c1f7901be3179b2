package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(second int) time.Time {
	return time.Date(2026, 3, 1, 10, 0, second, 0, time.UTC)
}

func TestReplaySnapshotsFoldsByCreatedAtThenID(t *testing.T) {
	// Insertion order differs from chronological order: the adjustment with
	// the larger id carries the earlier timestamp.
	movements := []Movement{
		{ID: 1, Quantity: 10, CreatedAt: at(1)},
		{ID: 2, Quantity: -3, CreatedAt: at(3)},
		{ID: 3, Quantity: 1, CreatedAt: at(2)},
	}

	fixes, final := ReplaySnapshots(movements)
	require.EqualValues(t, 8, final)
	require.Len(t, fixes, 3)

	require.Equal(t, SnapshotFix{MovementID: 1, QuantityBefore: 0, QuantityAfter: 10}, fixes[0])
	require.Equal(t, SnapshotFix{MovementID: 3, QuantityBefore: 10, QuantityAfter: 11}, fixes[1])
	require.Equal(t, SnapshotFix{MovementID: 2, QuantityBefore: 11, QuantityAfter: 8}, fixes[2])
}

func TestReplaySnapshotsTiesBrokenByID(t *testing.T) {
	ts := at(5)
	movements := []Movement{
		{ID: 9, Quantity: -1, CreatedAt: ts},
		{ID: 4, Quantity: 6, CreatedAt: ts},
	}
	fixes, final := ReplaySnapshots(movements)
	require.EqualValues(t, 5, final)
	require.Equal(t, int64(4), fixes[0].MovementID)
	require.Equal(t, int64(9), fixes[1].MovementID)
}

func TestReplaySnapshotsIdempotent(t *testing.T) {
	movements := []Movement{
		{ID: 1, Quantity: 10, CreatedAt: at(1)},
		{ID: 2, Quantity: -3, CreatedAt: at(3)},
		{ID: 3, Quantity: 1, CreatedAt: at(2)},
	}
	fixes, final := ReplaySnapshots(movements)
	for _, fix := range fixes {
		for i := range movements {
			if movements[i].ID == fix.MovementID {
				movements[i].QuantityBefore = fix.QuantityBefore
				movements[i].QuantityAfter = fix.QuantityAfter
			}
		}
	}

	// A second fold over corrected snapshots reports nothing to fix.
	fixes, again := ReplaySnapshots(movements)
	require.Empty(t, fixes)
	require.Equal(t, final, again)
}

func TestReplayEmptyScopeIsZero(t *testing.T) {
	require.EqualValues(t, 0, Replay(nil))
}

func TestParseMovementType(t *testing.T) {
	for _, raw := range []string{"SALE", "CANCELLATION", "RETURN", "PURCHASE_RECEIVED", "ADJUSTMENT", "CORRECTION", "DAMAGED", "SOLD_MANUAL"} {
		parsed, err := ParseMovementType(raw)
		require.NoError(t, err)
		require.EqualValues(t, raw, parsed)
	}
	_, err := ParseMovementType("sale")
	require.ErrorIs(t, err, ErrUnknownMovementType)
}
