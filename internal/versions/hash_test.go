package versions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeContentHashIgnoresKeyOrder(t *testing.T) {
	var specsA, specsB map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"power":"MH","length":84,"guides":{"count":9,"frame":"SiC"}}`), &specsA))
	require.NoError(t, json.Unmarshal([]byte(`{"guides":{"frame":"SiC","count":9},"length":84.0,"power":"MH"}`), &specsB))

	msrp := 129.5
	a, err := ComputeContentHash(ContentInput{Title: "Blank 7ft", Type: "Rod Blank", Specs: specsA, PriceMSRP: &msrp})
	require.NoError(t, err)
	b, err := ComputeContentHash(ContentInput{Title: "Blank 7ft", Type: "Rod Blank", Specs: specsB, PriceMSRP: &msrp})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestComputeContentHashDetectsChanges(t *testing.T) {
	base := ContentInput{Title: "Blank", Type: "Rod Blank", Specs: map[string]any{"power": "MH"}}
	h1, err := ComputeContentHash(base)
	require.NoError(t, err)

	changed := base
	changed.Specs = map[string]any{"power": "H"}
	h2, err := ComputeContentHash(changed)
	require.NoError(t, err)

	avail := "IN_STOCK"
	withAvail := base
	withAvail.Availability = &avail
	h3, err := ComputeContentHash(withAvail)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestComputeContentHashTreatsNilAndEmptyCollectionsAlike(t *testing.T) {
	h1, err := ComputeContentHash(ContentInput{Title: "Grip"})
	require.NoError(t, err)
	h2, err := ComputeContentHash(ContentInput{Title: "Grip", Images: []string{}, Specs: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestComputeContentHashNormalizesUnicode(t *testing.T) {
	composed := "Caf\u00e9 Seat"
	decomposed := "Cafe\u0301 Seat"
	h1, err := ComputeContentHash(ContentInput{Title: composed})
	require.NoError(t, err)
	h2, err := ComputeContentHash(ContentInput{Title: decomposed})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestMarshalCanonical(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"b": 1.50,
		"a": []any{"<x>", 2},
		"c": map[string]any{"z": true, "y": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["<x>",2],"b":1.5,"c":{"y":null,"z":true}}`, string(out))
}

func TestReadinessHash(t *testing.T) {
	empty, err := ReadinessHash(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	h1, err := ReadinessHash(map[string]any{"ready": true, "score": 3})
	require.NoError(t, err)
	h2, err := ReadinessHash(map[string]any{"score": 3, "ready": true})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.NotEmpty(t, h1)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Rainshadow Rods":           "rainshadow-rods",
		"  Fuji -- Guides!! ":       "fuji-guides",
		"Pac Bay / Über Components": "pac-bay-uber-components",
		"":                          "",
		"***":                       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}

	long := Slugify("a very long supplier name that keeps going and going well beyond any sane slug length limit")
	assert.LessOrEqual(t, len(long), MaxSlugLength)
	assert.NotEqual(t, '-', rune(long[len(long)-1]))
}
