package imports

import (
	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/versions"
)

// Spec keys lifted into core snapshot fields instead of attributes.
var coreSpecKeys = map[string]struct{}{
	"brand":            {},
	"series":           {},
	"material":         {},
	"color":            {},
	"family":           {},
	"design_ready":     {},
	"supplier_site_id": {},
}

// SnapshotFromStaging builds the comparable snapshot of a staging record.
func SnapshotFromStaging(supplier string, rec StagingRecord) catalog.Snapshot {
	var msrp any
	if rec.PriceMSRP != nil {
		msrp = *rec.PriceMSRP
	}
	var availability any
	if rec.Availability != nil {
		availability = *rec.Availability
	}
	return catalog.BuildSnapshot(recordFromSpecs(supplier, rec.ExternalID, rec.PartType, rec.NormSpecs, msrp, availability))
}

// SnapshotFromCanonical builds the comparable snapshot of a canonical product
// from its latest version. Products without a version yield ok=false.
func SnapshotFromCanonical(supplier string, lv versions.LatestVersion) (catalog.Snapshot, bool) {
	if lv.Version == nil {
		return catalog.Snapshot{}, false
	}
	payload := lv.Version.NormalizedPayload
	specs, _ := payload["specs"].(map[string]any)
	category := payload["category"]
	if category == nil {
		category = lv.Product.PartType
	}
	var msrp any
	if lv.Version.PriceMSRP != nil {
		msrp = *lv.Version.PriceMSRP
	}
	var availability any
	if lv.Version.Availability != nil {
		availability = *lv.Version.Availability
	}
	return catalog.BuildSnapshot(recordFromSpecs(supplier, lv.Product.SKU, category, specs, msrp, availability)), true
}

func recordFromSpecs(supplier string, code, category any, specs map[string]any, msrp, availability any) catalog.Record {
	attrs := make(map[string]any, len(specs))
	for k, v := range specs {
		if _, core := coreSpecKeys[k]; core {
			continue
		}
		attrs[k] = v
	}
	return catalog.Record{
		Supplier:       supplier,
		SupplierSiteID: specs["supplier_site_id"],
		ProductCode:    code,
		Category:       category,
		Family:         specs["family"],
		Brand:          specs["brand"],
		Series:         specs["series"],
		Material:       specs["material"],
		Color:          specs["color"],
		MSRP:           msrp,
		Availability:   availability,
		DesignReady:    specs["design_ready"],
		Attributes:     attrs,
	}
}
