package versions

import "sort"

// Annotator computes the readiness annotation for a product. The annotation
// is opaque to this package; it only feeds the content hash and the audit.
type Annotator interface {
	Annotate(in ProductInput) map[string]any
}

// AnnotatorFunc adapts a function to Annotator.
type AnnotatorFunc func(in ProductInput) map[string]any

// Annotate calls f.
func (f AnnotatorFunc) Annotate(in ProductInput) map[string]any {
	return f(in)
}

// ProfileAnnotator returns an Annotator that checks a product against the
// spec keys of its category profile. A product is ready when every profile
// key is present and it carries a price and at least one image.
func ProfileAnnotator(m *Mapper) Annotator {
	return AnnotatorFunc(func(in ProductInput) map[string]any {
		profile := m.Profile(in.Category)
		missing := []string{}
		for _, key := range profile.SpecKeys {
			if v, ok := in.Specs[key]; !ok || v == nil {
				missing = append(missing, key)
			}
		}
		sort.Strings(missing)
		hasPrice := in.PriceMSRP != nil
		hasImages := len(in.Images) > 0
		return map[string]any{
			"profile":       profile.Name,
			"missing_specs": missing,
			"has_price":     hasPrice,
			"has_images":    hasImages,
			"ready":         len(missing) == 0 && hasPrice && hasImages,
		}
	})
}
