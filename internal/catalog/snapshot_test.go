package catalog

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
)

func TestBuildSnapshotNormalizes(t *testing.T) {
	snap := BuildSnapshot(Record{
		Supplier:     " acme ",
		ProductCode:  1042,
		Category:     "",
		Brand:        "  ",
		Series:       "Pro",
		MSRP:         "129.95",
		Availability: nil,
		DesignReady:  "true",
		Attributes:   map[string]any{"power": "MH"},
	})

	assert.Equal(t, "acme", snap.Supplier)
	assert.Equal(t, "1042", snap.ProductCode)
	assert.Equal(t, UnknownCategory, snap.Category)
	assert.Nil(t, snap.Brand)
	assert.Equal(t, "Pro", *snap.Series)
	assert.Equal(t, 129.95, *snap.MSRP)
	assert.Nil(t, snap.Availability)
	assert.True(t, *snap.DesignReady)
	assert.Equal(t, map[string]any{"power": "MH"}, snap.Attributes)
}

func TestBuildSnapshotAttributesAreCopied(t *testing.T) {
	attrs := map[string]any{"action": "F"}
	snap := BuildSnapshot(Record{ProductCode: "A", Attributes: attrs})
	attrs["action"] = "XF"
	assert.Equal(t, "F", snap.Attributes["action"])

	arr := BuildSnapshot(Record{ProductCode: "A", Attributes: []any{"x"}})
	assert.Empty(t, arr.Attributes)
	assert.NotNil(t, arr.Attributes)
}

func TestNumber(t *testing.T) {
	decimal := pgtype.Numeric{Int: big.NewInt(1999), Exp: -2, Valid: true}
	cases := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float", 1.5, 1.5, true},
		{"int", 7, 7, true},
		{"string", " 42.10 ", 42.1, true},
		{"json number", json.Number("3.25"), 3.25, true},
		{"decimal", decimal, 19.99, true},
		{"invalid decimal", pgtype.Numeric{}, 0, false},
		{"empty", "", 0, false},
		{"garbage", "n/a", 0, false},
		{"nan", math.NaN(), 0, false},
		{"inf", math.Inf(1), 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Number(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}
