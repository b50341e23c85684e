package storage

import "bidwatch/internal/bid"

// IdentitySet returns the ids present in records.
func IdentitySet(records []bid.Record) map[string]struct{} {
	set := make(map[string]struct{}, len(records))
	for _, r := range records {
		set[r.ID] = struct{}{}
	}
	return set
}

// Merge places newBatch ahead of existing, keeping both orders.
//
// Dedup must already have happened when newBatch was built; Merge only checks
// that no id of newBatch is present in existing (or repeated within newBatch)
// and refuses with *IntegrityError otherwise.
func Merge(newBatch, existing []bid.Record) ([]bid.Record, error) {
	known := IdentitySet(existing)
	var dup []string
	seen := make(map[string]struct{}, len(newBatch))
	for _, r := range newBatch {
		if _, ok := known[r.ID]; ok {
			dup = append(dup, r.ID)
			continue
		}
		if _, ok := seen[r.ID]; ok {
			dup = append(dup, r.ID)
			continue
		}
		seen[r.ID] = struct{}{}
	}
	if len(dup) > 0 {
		return nil, &IntegrityError{IDs: dup}
	}

	out := make([]bid.Record, 0, len(newBatch)+len(existing))
	out = append(out, newBatch...)
	out = append(out, existing...)
	return out, nil
}

// duplicateIDs reports ids that appear more than once, in first-repeat order.
func duplicateIDs(records []bid.Record) []string {
	seen := make(map[string]struct{}, len(records))
	var dup []string
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			dup = append(dup, r.ID)
			continue
		}
		seen[r.ID] = struct{}{}
	}
	return dup
}
