// Package catalog holds the pure catalog comparison core: snapshot
// normalization and the diff engine. Nothing in here touches storage.
package catalog

// UnknownCategory is assigned to snapshots without a category.
const UnknownCategory = "unknown"

// Snapshot is the normalized, comparable shape of one supplier product.
type Snapshot struct {
	Supplier       string         `json:"supplier"`
	SupplierSiteID *string        `json:"supplier_site_id,omitempty"`
	ProductCode    string         `json:"product_code"`
	Category       string         `json:"category"`
	Family         *string        `json:"family,omitempty"`
	Brand          *string        `json:"brand,omitempty"`
	Series         *string        `json:"series,omitempty"`
	Material       *string        `json:"material,omitempty"`
	Color          *string        `json:"color,omitempty"`
	MSRP           *float64       `json:"msrp,omitempty"`
	Availability   *string        `json:"availability,omitempty"`
	DesignReady    *bool          `json:"design_ready,omitempty"`
	Attributes     map[string]any `json:"attributes"`
}

// Kind enumerates diff classifications.
type Kind string

const (
	// KindAdd marks a product present only in staging.
	KindAdd Kind = "add"
	// KindChange marks a product present on both sides with differing fields.
	KindChange Kind = "change"
	// KindDelete marks a product present only in the canonical catalog.
	KindDelete Kind = "delete"
)

// AllKinds lists every diff kind in reporting order.
var AllKinds = []Kind{KindAdd, KindChange, KindDelete}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAdd, KindChange, KindDelete:
		return true
	}
	return false
}

// FieldChange captures one differing field of a change diff.
type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// Diff is one line of a diff run.
type Diff struct {
	Kind          Kind          `json:"kind"`
	ProductCode   string        `json:"product_code"`
	Category      string        `json:"category"`
	Family        *string       `json:"family,omitempty"`
	Before        *Snapshot     `json:"before,omitempty"`
	After         *Snapshot     `json:"after,omitempty"`
	ChangedFields []FieldChange `json:"changed_fields,omitempty"`
}

// Summary counts diffs per kind.
type Summary struct {
	Adds    int `json:"adds"`
	Changes int `json:"changes"`
	Deletes int `json:"deletes"`
}

// Total returns the number of diffs counted.
func (s Summary) Total() int {
	return s.Adds + s.Changes + s.Deletes
}

// Add increments the counter for kind.
func (s *Summary) Add(kind Kind) {
	switch kind {
	case KindAdd:
		s.Adds++
	case KindChange:
		s.Changes++
	case KindDelete:
		s.Deletes++
	}
}

// Result is the output of ComputeDiff.
type Result struct {
	Diffs   []Diff  `json:"diffs"`
	Summary Summary `json:"summary"`
}
