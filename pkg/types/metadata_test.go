package types

import (
	"strings"
	"testing"
)

func TestFlattenMetadataNestedAndArrays(t *testing.T) {
	got := FlattenMetadata(map[string]any{
		"payment": map[string]any{
			"id":   "pay_123",
			"type": "cash_in",
		},
		"order_ids": []any{"a", "b", "c"},
		"attempt":   float64(2),
	})

	if got["payment_id"] != "pay_123" {
		t.Fatalf("nested key not flattened: %v", got)
	}
	if got["payment_type"] != "cash_in" {
		t.Fatalf("nested key not flattened: %v", got)
	}
	if got["order_ids"] != "a,b,c" {
		t.Fatalf("array not comma-joined: %v", got)
	}
	if got["attempt"] != "2" {
		t.Fatalf("integer float should render without decimal: %v", got)
	}
}

func TestFlattenMetadataTruncatesValues(t *testing.T) {
	long := strings.Repeat("x", MetadataMaxValueLen+100)
	got := FlattenMetadata(map[string]any{"note": long})
	if len(got["note"]) != MetadataMaxValueLen {
		t.Fatalf("value not truncated, len=%d", len(got["note"]))
	}
}

func TestFlattenMetadataCapsKeyCount(t *testing.T) {
	input := map[string]any{}
	for i := 0; i < MetadataMaxKeys+20; i++ {
		input[strings.Repeat("k", 3)+string(rune('a'+i%26))+string(rune('a'+i/26))] = "v"
	}
	got := FlattenMetadata(input)
	if len(got) > MetadataMaxKeys {
		t.Fatalf("expected at most %d keys, got %d", MetadataMaxKeys, len(got))
	}
}
