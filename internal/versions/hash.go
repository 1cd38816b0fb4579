package versions

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Hash domains. The version suffix allows migrating the algorithm later.
const (
	DomainContent   = "catalogsync/version/v1"
	DomainReadiness = "catalogsync/readiness/v1"
)

// ContentInput is the canonical subset of a product that defines a version.
type ContentInput struct {
	Title          string
	Type           string
	Description    *string
	Images         []string
	Specs          map[string]any
	PriceMSRP      *float64
	PriceWholesale *float64
	Availability   *string
	Readiness      map[string]any
}

// ComputeContentHash digests in through a key-sorted canonical encoding, so
// the order in which maps were populated never changes the result.
func ComputeContentHash(in ContentInput) (string, error) {
	images := in.Images
	if images == nil {
		images = []string{}
	}
	specs := in.Specs
	if specs == nil {
		specs = map[string]any{}
	}
	envelope := map[string]any{
		"title":           in.Title,
		"type":            in.Type,
		"description":     in.Description,
		"images":          images,
		"specs":           specs,
		"price_msrp":      in.PriceMSRP,
		"price_wholesale": in.PriceWholesale,
		"availability":    in.Availability,
		"readiness":       in.Readiness,
	}
	data, err := MarshalCanonical(envelope)
	if err != nil {
		return "", fmt.Errorf("versions: content hash: %w", err)
	}
	return hashWithDomain(DomainContent, data), nil
}

// ReadinessHash digests a readiness annotation. A nil annotation hashes to
// the empty string.
func ReadinessHash(annotation map[string]any) (string, error) {
	if annotation == nil {
		return "", nil
	}
	data, err := MarshalCanonical(annotation)
	if err != nil {
		return "", fmt.Errorf("versions: readiness hash: %w", err)
	}
	return hashWithDomain(DomainReadiness, data), nil
}

// MarshalCanonical encodes v as JSON with sorted object keys, NFC-normalized
// strings, shortest-form numbers and no HTML escaping.
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	canonical, err := canonicalize(generic)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonical); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func canonicalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool:
		return val, nil
	case string:
		return norm.NFC.String(val), nil
	case json.Number:
		f, err := strconv.ParseFloat(val.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("number %q: %w", val, err)
		}
		return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			c, err := canonicalize(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		// encoding/json emits map keys in sorted order.
		out := make(map[string]any, len(val))
		for k, item := range val {
			c, err := canonicalize(item)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[norm.NFC.String(k)] = c
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
