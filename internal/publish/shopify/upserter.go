package shopify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/rodworks/catalogsync/internal/publish"
	"github.com/rodworks/catalogsync/internal/versions"
)

const (
	metafieldNamespace = "catalogsync"
	metafieldKey       = "specs"
)

var _ publish.Platform = (*Upserter)(nil)

// UpserterConfig wires the Upserter. BaseURL overrides the per-shop API root.
type UpserterConfig struct {
	Ledger        Ledger
	APIVersion    string
	RatePerSecond float64
	HTTPClient    *http.Client
	BaseURL       string
	Logger        *slog.Logger
}

// Upserter implements publish.Platform on top of the Admin API and the
// publish ledger.
type Upserter struct {
	ledger Ledger
	cfg    UpserterConfig
	policy *bluemonday.Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewUpserter constructs an Upserter.
func NewUpserter(cfg UpserterConfig) *Upserter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Upserter{ledger: cfg.Ledger, cfg: cfg, policy: bluemonday.UGCPolicy(), logger: logger, now: time.Now}
}

// UpsertBatch publishes items sequentially. Item failures are reported in
// the results; only a ledger outage fails the batch.
func (u *Upserter) UpsertBatch(ctx context.Context, req publish.BatchRequest) ([]publish.ItemResult, error) {
	if err := u.ledger.ClearSkips(ctx, req.RunID); err != nil {
		return nil, fmt.Errorf("shopify: clear skip markers: %w", err)
	}
	client := NewClient(req.Session.Shop, req.Session.AccessToken, u.cfg.APIVersion,
		WithBaseURL(u.cfg.BaseURL), WithHTTPClient(u.cfg.HTTPClient), WithRateLimit(u.cfg.RatePerSecond))

	results := make([]publish.ItemResult, 0, len(req.Items))
	for i, item := range req.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := u.upsertOne(ctx, client, req, item)
		if err != nil {
			u.logger.Warn("publish item", slog.Int64("run_id", req.RunID), slog.String("external_id", item.ExternalID), slog.Any("error", err))
			res = publish.ItemResult{ExternalID: item.ExternalID, Action: publish.ActionFailed, Error: err.Error()}
		}
		results = append(results, res)
		if req.OnProgress != nil {
			req.OnProgress(i + 1)
		}
	}
	return results, nil
}

func (u *Upserter) upsertOne(ctx context.Context, client *Client, req publish.BatchRequest, item publish.Item) (publish.ItemResult, error) {
	product := u.productFor(item)
	payloadHash, err := hashOf(withoutTitle(product))
	if err != nil {
		return publish.ItemResult{}, err
	}
	specsHash, err := hashOf(item.Specs)
	if err != nil {
		return publish.ItemResult{}, err
	}

	entry, found, err := u.ledger.Find(ctx, req.Session.Shop, item.ExternalID)
	if err != nil {
		return publish.ItemResult{}, fmt.Errorf("ledger lookup: %w", err)
	}
	next := LedgerEntry{
		Shop:        req.Session.Shop,
		ExternalID:  item.ExternalID,
		PayloadHash: payloadHash,
		Title:       product.Title,
		SpecsHash:   specsHash,
		Active:      item.Active,
		PublishedAt: u.now().UTC(),
	}

	if !found {
		created, err := client.CreateProduct(ctx, product)
		if err != nil {
			return publish.ItemResult{}, err
		}
		if err := u.writeSpecs(ctx, client, created.ID, item.Specs); err != nil {
			return publish.ItemResult{}, err
		}
		next.ProductID, next.Handle = created.ID, created.Handle
		u.save(ctx, next)
		return result(item, next, publish.ActionCreated), nil
	}

	next.ProductID, next.Handle = entry.ProductID, entry.Handle
	if entry.PayloadHash != payloadHash {
		updated, err := client.UpdateProduct(ctx, entry.ProductID, product)
		if err != nil {
			return publish.ItemResult{}, err
		}
		if updated.Handle != "" {
			next.Handle = updated.Handle
		}
		if entry.SpecsHash != specsHash {
			if err := u.writeSpecs(ctx, client, entry.ProductID, item.Specs); err != nil {
				return publish.ItemResult{}, err
			}
		}
		u.save(ctx, next)
		return result(item, next, publish.ActionUpdated), nil
	}

	var reason string
	specsChanged := entry.SpecsHash != specsHash
	switch {
	case entry.Title != product.Title:
		if _, err := client.UpdateProduct(ctx, entry.ProductID, Product{Title: product.Title}); err != nil {
			return publish.ItemResult{}, err
		}
		reason = publish.ReasonHashUnchangedTitleOnly
	case specsChanged && entry.SpecsHash != "":
		reason = publish.ReasonHashUnchangedSpecsBackfilled
	case specsChanged:
		reason = publish.ReasonUnchangedSpecsBackfilled
	default:
		reason = publish.ReasonUnchangedActive
	}
	if specsChanged {
		if err := u.writeSpecs(ctx, client, entry.ProductID, item.Specs); err != nil {
			return publish.ItemResult{}, err
		}
	}
	u.save(ctx, next)
	if err := u.ledger.RecordSkip(ctx, req.RunID, item.ExternalID, reason); err != nil {
		u.logger.Warn("record skip marker", slog.Int64("run_id", req.RunID), slog.String("external_id", item.ExternalID), slog.Any("error", err))
	}
	return result(item, next, publish.ActionUpdated), nil
}

func (u *Upserter) productFor(item publish.Item) Product {
	p := Product{
		Title:       item.Title,
		Vendor:      item.Supplier,
		ProductType: item.Category,
		Status:      "active",
		Tags:        "catalogsync",
		Variants:    []Variant{{SKU: item.ExternalID}},
	}
	if !item.Active {
		p.Status = "draft"
	}
	if item.Description != nil {
		p.BodyHTML = strings.TrimSpace(u.policy.Sanitize(*item.Description))
	}
	if item.PriceMSRP != nil {
		p.Variants[0].Price = strconv.FormatFloat(*item.PriceMSRP, 'f', 2, 64)
	}
	for _, src := range item.Images {
		if src != "" {
			p.Images = append(p.Images, Image{Src: src})
		}
	}
	return p
}

func (u *Upserter) writeSpecs(ctx context.Context, client *Client, productID int64, specs map[string]any) error {
	if len(specs) == 0 {
		return nil
	}
	value, err := versions.MarshalCanonical(specs)
	if err != nil {
		return err
	}
	return client.SetMetafield(ctx, productID, Metafield{Namespace: metafieldNamespace, Key: metafieldKey, Type: "json", Value: string(value)})
}

// save logs ledger write failures; the remote product is already written.
func (u *Upserter) save(ctx context.Context, entry LedgerEntry) {
	if err := u.ledger.Save(ctx, entry); err != nil {
		u.logger.Warn("publish ledger write", slog.String("external_id", entry.ExternalID), slog.Any("error", err))
	}
}

func result(item publish.Item, entry LedgerEntry, action publish.Action) publish.ItemResult {
	return publish.ItemResult{ExternalID: item.ExternalID, ProductID: formatID(entry.ProductID), Handle: entry.Handle, Action: action}
}

func withoutTitle(p Product) Product {
	p.Title = ""
	return p
}

func hashOf(v any) (string, error) {
	data, err := versions.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return id
}
