package versions

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rodworks/catalogsync/internal/catalog"
)

//go:embed categories.yaml
var defaultCategories []byte

// CategoryProfile describes how payloads of one category are typed.
type CategoryProfile struct {
	Name        string   `yaml:"name"`
	DisplayType string   `yaml:"display_type"`
	Aliases     []string `yaml:"aliases"`
	SpecKeys    []string `yaml:"spec_keys"`
}

type categoryFile struct {
	Categories []CategoryProfile `yaml:"categories"`
}

// CategoryRecord is a normalized payload parsed against its category profile.
type CategoryRecord struct {
	Category       string
	DisplayType    string
	SKU            string
	Title          string
	Description    *string
	Images         []string
	Specs          map[string]any
	PriceMSRP      *float64
	PriceWholesale *float64
	Availability   *string
	SourceURL      string
	Readiness      map[string]any
	FetchedAt      time.Time
}

// Input converts the record into a VersionStore input for supplierID.
func (r CategoryRecord) Input(supplierID int64, supplierName string) ProductInput {
	return ProductInput{
		SupplierID:     supplierID,
		SupplierName:   supplierName,
		SKU:            r.SKU,
		Title:          r.Title,
		Category:       r.Category,
		PartType:       r.DisplayType,
		Description:    r.Description,
		Images:         r.Images,
		Specs:          r.Specs,
		PriceMSRP:      r.PriceMSRP,
		PriceWholesale: r.PriceWholesale,
		Availability:   r.Availability,
		Readiness:      r.Readiness,
		SourceURL:      r.SourceURL,
		FetchedAt:      r.FetchedAt,
	}
}

// Mapper resolves categories and parses normalized payloads.
type Mapper struct {
	profiles map[string]CategoryProfile
	fallback CategoryProfile
}

// NewMapper loads the embedded category profiles.
func NewMapper() (*Mapper, error) {
	return ParseCategoryProfiles(defaultCategories)
}

// ParseCategoryProfiles builds a Mapper from YAML profile data.
func ParseCategoryProfiles(data []byte) (*Mapper, error) {
	var file categoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("versions: parse category profiles: %w", err)
	}
	m := &Mapper{
		profiles: make(map[string]CategoryProfile),
		fallback: CategoryProfile{Name: catalog.UnknownCategory, DisplayType: "Product"},
	}
	for _, profile := range file.Categories {
		name := strings.ToLower(strings.TrimSpace(profile.Name))
		if name == "" {
			return nil, fmt.Errorf("versions: category profile without name")
		}
		profile.Name = name
		if name == catalog.UnknownCategory {
			m.fallback = profile
		}
		m.profiles[name] = profile
		for _, alias := range profile.Aliases {
			m.profiles[strings.ToLower(strings.TrimSpace(alias))] = profile
		}
	}
	return m, nil
}

// Profile returns the profile for category, or the fallback profile.
func (m *Mapper) Profile(category string) CategoryProfile {
	if profile, ok := m.profiles[strings.ToLower(strings.TrimSpace(category))]; ok {
		return profile
	}
	return m.fallback
}

// Parse types payload against the profile of category. The payload must be a
// JSON object carrying at least a product code (product_code or sku).
func (m *Mapper) Parse(category string, payload []byte) (CategoryRecord, error) {
	if len(payload) == 0 {
		return CategoryRecord{}, ErrInvalidPayload
	}
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return CategoryRecord{}, ErrInvalidPayload
	}

	sku, ok := catalog.Text(raw["product_code"])
	if !ok {
		sku, ok = catalog.Text(raw["sku"])
	}
	if !ok {
		return CategoryRecord{}, ErrInvalidPayload
	}

	if c, ok := catalog.Text(raw["category"]); ok && strings.TrimSpace(category) == "" {
		category = c
	}
	profile := m.Profile(category)

	record := CategoryRecord{
		Category:    profile.Name,
		DisplayType: profile.DisplayType,
		SKU:         sku,
		Title:       sku,
		Specs:       specsOf(raw, profile),
		SourceURL:   stringOf(raw["url"]),
	}
	if title, ok := catalog.Text(raw["title"]); ok {
		record.Title = title
	}
	if desc, ok := catalog.Text(raw["description"]); ok {
		record.Description = &desc
	}
	if avail, ok := catalog.Text(raw["availability"]); ok {
		record.Availability = &avail
	}
	if v, ok := catalog.Number(raw["price_msrp"]); ok {
		record.PriceMSRP = &v
	}
	if v, ok := catalog.Number(raw["price_wholesale"]); ok {
		record.PriceWholesale = &v
	}
	if images, ok := raw["images"].([]any); ok {
		for _, img := range images {
			if s, ok := catalog.Text(img); ok {
				record.Images = append(record.Images, s)
			}
		}
	}
	if readiness, ok := raw["readiness"].(map[string]any); ok {
		record.Readiness = readiness
	}
	return record, nil
}

// specsOf returns the payload spec bag. Profile keys found at the top level
// of the payload are folded in when the bag lacks them.
func specsOf(raw map[string]any, profile CategoryProfile) map[string]any {
	specs := make(map[string]any)
	if bag, ok := raw["specs"].(map[string]any); ok {
		for k, v := range bag {
			specs[k] = v
		}
	}
	for _, key := range profile.SpecKeys {
		if _, exists := specs[key]; exists {
			continue
		}
		if v, ok := raw[key]; ok && v != nil {
			specs[key] = v
		}
	}
	return specs
}

func stringOf(v any) string {
	s, _ := catalog.Text(v)
	return s
}
