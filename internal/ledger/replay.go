package ledger

import "sort"

// SortChronological orders movements by (created_at, id) ascending, the
// canonical replay order of the ledger.
func SortChronological(movements []Movement) {
	sort.SliceStable(movements, func(i, j int) bool {
		if movements[i].CreatedAt.Equal(movements[j].CreatedAt) {
			return movements[i].ID < movements[j].ID
		}
		return movements[i].CreatedAt.Before(movements[j].CreatedAt)
	})
}

// Replay folds a movement set in chronological order starting from zero and
// returns the final running quantity. The input slice is reordered in place.
func Replay(movements []Movement) int64 {
	SortChronological(movements)
	var running int64
	for _, m := range movements {
		running += m.Quantity
	}
	return running
}

// SnapshotFix describes a movement whose stored before/after snapshot drifted
// from the replayed value.
type SnapshotFix struct {
	MovementID     int64
	QuantityBefore int64
	QuantityAfter  int64
}

// ReplaySnapshots folds a movement set in chronological order and returns the
// snapshot rewrites needed to restore replay correctness, plus the final
// running quantity. Movements whose stored snapshots already match are left
// out of the fix list so callers can minimize writes.
func ReplaySnapshots(movements []Movement) ([]SnapshotFix, int64) {
	SortChronological(movements)
	var running int64
	var fixes []SnapshotFix
	for _, m := range movements {
		before := running
		running += m.Quantity
		if m.QuantityBefore != before || m.QuantityAfter != running {
			fixes = append(fixes, SnapshotFix{MovementID: m.ID, QuantityBefore: before, QuantityAfter: running})
		}
	}
	return fixes, running
}
