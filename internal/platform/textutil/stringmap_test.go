package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims keys and values", func(t *testing.T) {
		input := map[string]string{
			" anbieterId ":         " prov_1 ",
			"additionalData[date]": " 2024-06-01 ",
			"empty":                " ",
			" ":                    "ignored",
			"":                     "ignore",
		}

		expected := map[string]string{
			"anbieterId":           "prov_1",
			"additionalData[date]": "2024-06-01",
			"empty":                "",
		}

		actual := NormalizeStringMap(input, 0)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("caps value length on rune boundaries", func(t *testing.T) {
		actual := NormalizeStringMap(map[string]string{"description": "Küche aufbauen"}, 5)
		if actual["description"] != "Küche" {
			t.Fatalf("expected truncated value, got %q", actual["description"])
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if NormalizeStringMap(nil, 0) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{" ": "x"}, 0) != nil {
			t.Fatalf("expected nil when every key is blank")
		}
	})
}
