package publish

import (
	"github.com/google/uuid"

	"github.com/rodworks/catalogsync/internal/catalog"
)

// canonicalRow is the canonical product joined to an approved item; every
// field is nil when the item was never applied.
type canonicalRow struct {
	ProductID   *uuid.UUID
	Title       *string
	Active      *bool
	Description *string
	Images      []string
	Payload     map[string]any
	PriceMSRP   *float64
}

// buildItem prefers canonical state and falls back to the diff snapshot so
// approved but unapplied items can still be published.
func buildItem(runItemID int64, kind catalog.Kind, code, category, supplier string, before, after *catalog.Snapshot, canon canonicalRow) Item {
	item := Item{
		RunItemID:  runItemID,
		ExternalID: code,
		Kind:       kind,
		Category:   category,
		Supplier:   supplier,
		ProductID:  canon.ProductID,
		Active:     kind != catalog.KindDelete,
	}
	snap := after
	if snap == nil {
		snap = before
	}

	if canon.ProductID != nil {
		if canon.Title != nil {
			item.Title = *canon.Title
		}
		if canon.Active != nil && kind != catalog.KindDelete {
			item.Active = *canon.Active
		}
		item.Description = canon.Description
		item.Images = canon.Images
		item.PriceMSRP = canon.PriceMSRP
		if specs, ok := canon.Payload["specs"].(map[string]any); ok {
			item.Specs = specs
		}
	} else if snap != nil {
		item.PriceMSRP = snap.MSRP
		item.Specs = snap.Attributes
	}
	if item.Title == "" {
		item.Title = code
	}
	if item.Specs == nil {
		item.Specs = map[string]any{}
	}
	return item
}
