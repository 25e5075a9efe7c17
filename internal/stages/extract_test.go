package stages

import (
	"strings"
	"testing"
)

func TestDecodeExtracted(t *testing.T) {
	obj := map[string]any{
		"order_number":  " PO-2041 ",
		"supplier_name": "Acme Supply",
		"order_date":    "2026-02-14",
		"currency":      "USD",
		"subtotal":      100.0,
		"tax":           8.25,
		"total":         108.25,
		"confidence":    0.92,
		"lines": []any{
			map[string]any{
				"line_number": 0,
				"sku":         " SKU-1 ",
				"description": "Widget",
				"quantity":    2.0,
				"unit_price":  50.0,
				"total":       100.0,
				"image_urls":  []any{"https://cdn.example.com/w.jpg"},
			},
		},
	}

	order, err := decodeExtracted(obj)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if order.OrderNumber != "PO-2041" {
		t.Fatalf("order number = %q, want trimmed PO-2041", order.OrderNumber)
	}
	if len(order.Lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(order.Lines))
	}
	if order.Lines[0].SKU != "SKU-1" {
		t.Fatalf("sku = %q, want trimmed SKU-1", order.Lines[0].SKU)
	}
	// Missing or zero line numbers get positional defaults.
	if order.Lines[0].LineNumber != 1 {
		t.Fatalf("line number = %d, want 1", order.Lines[0].LineNumber)
	}
	if order.Confidence != 0.92 {
		t.Fatalf("confidence = %v", order.Confidence)
	}
}

func TestDecodeExtractedClampsConfidence(t *testing.T) {
	order, err := decodeExtracted(map[string]any{
		"order_number": "PO-1",
		"confidence":   1.7,
		"lines":        []any{},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if order.Confidence != 1 {
		t.Fatalf("confidence = %v, want clamped to 1", order.Confidence)
	}
}

func TestRenderExtractPrompt(t *testing.T) {
	prompt := renderExtractPrompt(parseResult{
		PrimaryText: "PURCHASE ORDER PO-9",
		Tables: []parseTable{
			{Page: 2, Rows: [][]string{
				{"SKU", "Qty", "Price"},
				{"A-1", "2", "9.99"},
			}},
		},
	})
	if !strings.Contains(prompt, "PURCHASE ORDER PO-9") {
		t.Fatalf("prompt missing document text")
	}
	if !strings.Contains(prompt, "TABLE 1 (page 2):") {
		t.Fatalf("prompt missing table header")
	}
	if !strings.Contains(prompt, "A-1 | 2 | 9.99") {
		t.Fatalf("prompt missing table row")
	}
}
