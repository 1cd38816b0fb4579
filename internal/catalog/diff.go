package catalog

import "sort"

// coreFields is the ordered list of snapshot fields compared by ComputeDiff.
var coreFields = []struct {
	name string
	get  func(Snapshot) any
}{
	{"brand", func(s Snapshot) any { return optional(s.Brand) }},
	{"series", func(s Snapshot) any { return optional(s.Series) }},
	{"material", func(s Snapshot) any { return optional(s.Material) }},
	{"color", func(s Snapshot) any { return optional(s.Color) }},
	{"msrp", func(s Snapshot) any { return optional(s.MSRP) }},
	{"availability", func(s Snapshot) any { return optional(s.Availability) }},
	{"category", func(s Snapshot) any { return s.Category }},
	{"family", func(s Snapshot) any { return optional(s.Family) }},
	{"designReady", func(s Snapshot) any { return optional(s.DesignReady) }},
}

// AttributePrefix prefixes attribute keys in FieldChange.Field.
const AttributePrefix = "attributes."

// ComputeDiff classifies every product code of existing and staging.
//
// Adds and changes are emitted in staging order, deletes in existing order.
// Snapshots without a product code cannot be joined and are ignored; when a
// code repeats inside one side the last snapshot wins.
func ComputeDiff(existing, staging []Snapshot) Result {
	existingByCode, existingOrder := index(existing)
	stagingByCode, stagingOrder := index(staging)

	result := Result{Diffs: make([]Diff, 0)}
	for _, code := range stagingOrder {
		after := stagingByCode[code]
		before, ok := existingByCode[code]
		if !ok {
			result.Diffs = append(result.Diffs, Diff{
				Kind:        KindAdd,
				ProductCode: code,
				Category:    after.Category,
				Family:      after.Family,
				After:       &after,
			})
			result.Summary.Add(KindAdd)
			continue
		}
		changes := ChangedFields(before, after)
		if len(changes) == 0 {
			continue
		}
		result.Diffs = append(result.Diffs, Diff{
			Kind:          KindChange,
			ProductCode:   code,
			Category:      after.Category,
			Family:        after.Family,
			Before:        &before,
			After:         &after,
			ChangedFields: changes,
		})
		result.Summary.Add(KindChange)
	}
	for _, code := range existingOrder {
		if _, ok := stagingByCode[code]; ok {
			continue
		}
		before := existingByCode[code]
		result.Diffs = append(result.Diffs, Diff{
			Kind:        KindDelete,
			ProductCode: code,
			Category:    before.Category,
			Family:      before.Family,
			Before:      &before,
		})
		result.Summary.Add(KindDelete)
	}
	return result
}

// ChangedFields lists differing fields between two snapshots of the same
// product: core fields in declaration order, then attribute keys sorted
// lexicographically.
func ChangedFields(before, after Snapshot) []FieldChange {
	var changes []FieldChange
	for _, field := range coreFields {
		b, a := field.get(before), field.get(after)
		if !Equal(b, a) {
			changes = append(changes, FieldChange{Field: field.name, Before: b, After: a})
		}
	}
	for _, key := range attributeKeys(before.Attributes, after.Attributes) {
		b, a := before.Attributes[key], after.Attributes[key]
		if !Equal(b, a) {
			changes = append(changes, FieldChange{Field: AttributePrefix + key, Before: b, After: a})
		}
	}
	return changes
}

func index(snapshots []Snapshot) (map[string]Snapshot, []string) {
	byCode := make(map[string]Snapshot, len(snapshots))
	order := make([]string, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap.ProductCode == "" {
			continue
		}
		if _, seen := byCode[snap.ProductCode]; !seen {
			order = append(order, snap.ProductCode)
		}
		byCode[snap.ProductCode] = snap
	}
	return byCode, order
}

func attributeKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, m := range []map[string]any{a, b} {
		for k := range m {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func optional[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
