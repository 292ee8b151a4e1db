package canonicaljson

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMarshal_SortsKeys(t *testing.T) {
	input := map[string]interface{}{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	expected := `{"a":1,"b":2,"c":3}`

	b, err := Marshal(input)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestMarshal_RecursiveSorting(t *testing.T) {
	// The two inputs differ only in key order, including inside the
	// nested object; canonical output must be byte-identical.
	first := map[string]interface{}{
		"a":      2,
		"nested": map[string]interface{}{"a": 2, "b": 1},
		"z":      1,
	}
	second := map[string]interface{}{
		"z":      1,
		"a":      2,
		"nested": map[string]interface{}{"b": 1, "a": 2},
	}

	fb, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	sb, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if string(fb) != string(sb) {
		t.Errorf("canonical forms differ: %s vs %s", fb, sb)
	}
	if string(fb) != `{"a":2,"nested":{"a":2,"b":1},"z":1}` {
		t.Errorf("unexpected canonical form: %s", fb)
	}
}

func TestMarshal_ArraysPreserveOrder(t *testing.T) {
	input := map[string]interface{}{
		"items": []interface{}{"z", "a", "m"},
	}

	b, err := Marshal(input)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	expected := `{"items":["z","a","m"]}`
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{
		"html": "<script>alert('x')</script> &",
	}

	b, err := Marshal(input)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	expected := `{"html":"<script>alert('x')</script> &"}`
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestMarshal_StructTags(t *testing.T) {
	type payload struct {
		Zulu  string `json:"zulu"`
		Alpha int    `json:"alpha"`
	}

	b, err := Marshal(payload{Zulu: "z", Alpha: 1})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	expected := `{"alpha":1,"zulu":"z"}`
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestHash_Deterministic(t *testing.T) {
	v := map[string]interface{}{"b": "two", "a": "one"}

	h1, err := Hash(v)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h2, err := Hash(map[string]interface{}{"a": "one", "b": "two"})
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	if h1 != h2 {
		t.Errorf("hashes differ for equivalent values: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64-char hex digest, got %d chars", len(h1))
	}
}

// TestMarshal_OrderIndependence verifies the determinism property over
// generated maps: serializing the same logical object must always yield
// the same bytes regardless of construction order.
func TestMarshal_OrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical form is independent of key insertion order", prop.ForAll(
		func(keys []string, values []string) bool {
			forward := make(map[string]interface{})
			for i := 0; i < len(keys) && i < len(values); i++ {
				forward[keys[i]] = values[i]
			}
			backward := make(map[string]interface{})
			for i := len(keys) - 1; i >= 0; i-- {
				if i < len(values) {
					backward[keys[i]] = values[i]
				}
			}

			fb, err1 := Marshal(forward)
			bb, err2 := Marshal(backward)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return string(fb) == string(bb)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
