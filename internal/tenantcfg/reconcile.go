package tenantcfg

// Plan is the set of writes that turns the stored rows of one collection
// into the desired rows.
type Plan[T any] struct {
	Insert []T
	Update []T
	Delete []T
}

// Empty reports whether the plan has nothing to do.
func (p Plan[T]) Empty() bool {
	return len(p.Insert) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// Diff compares current and desired by natural key. Rows only in current
// are deleted, rows only in desired are inserted, and rows in both are
// updated when equal reports a payload difference. Output order follows the
// input order. desired must not repeat a key; the first repeated key is
// returned with ok == false.
func Diff[T any, K comparable](current, desired []T, key func(T) K, equal func(a, b T) bool) (plan Plan[T], dup K, ok bool) {
	stored := make(map[K]T, len(current))
	for _, row := range current {
		stored[key(row)] = row
	}

	wanted := make(map[K]struct{}, len(desired))
	for _, row := range desired {
		k := key(row)
		if _, seen := wanted[k]; seen {
			return Plan[T]{}, k, false
		}
		wanted[k] = struct{}{}

		old, exists := stored[k]
		switch {
		case !exists:
			plan.Insert = append(plan.Insert, row)
		case !equal(old, row):
			plan.Update = append(plan.Update, row)
		}
	}

	for _, row := range current {
		if _, keep := wanted[key(row)]; !keep {
			plan.Delete = append(plan.Delete, row)
		}
	}
	return plan, dup, true
}
