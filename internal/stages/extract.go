package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ordersight/ordersight-backend/internal/clients/openai"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

const extractSystemPrompt = `You extract purchase order data from supplier documents.
Read the document text and tables and return the order header and every line item.
Use null-equivalent empty values for fields the document does not contain.
Set confidence between 0 and 1 reflecting how certain you are that the
extraction is complete and correct.`

// ExtractStage turns parsed document text into a structured order via the
// model's JSON-schema output mode.
type ExtractStage struct {
	store *workflow.ResultStore
	ai    openai.Client
	log   *logger.Logger
}

func NewExtractStage(store *workflow.ResultStore, ai openai.Client, baseLog *logger.Logger) *ExtractStage {
	return &ExtractStage{
		store: store,
		ai:    ai,
		log:   baseLog.With("stage", workflow.StageExtract),
	}
}

func (s *ExtractStage) Run(ctx context.Context, run *types.WorkflowRun, _ *types.StageJob) (interface{}, error) {
	var parsed parseResult
	found, err := s.store.Get(ctx, nil, run.ID, workflow.StageParse, &parsed)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, workflow.FatalError("extract: parse stage has not written its result")
	}
	if strings.TrimSpace(parsed.PrimaryText) == "" && len(parsed.Tables) == 0 {
		return nil, workflow.FatalError("extract: document produced no text")
	}

	obj, err := s.ai.GenerateJSON(ctx, extractSystemPrompt, renderExtractPrompt(parsed),
		"purchase_order", extractSchema())
	if err != nil {
		return nil, err
	}

	order, err := decodeExtracted(obj)
	if err != nil {
		return nil, workflow.FatalError("extract: " + err.Error())
	}
	if order.OrderNumber == "" {
		return nil, workflow.FatalError("extract: document has no order number")
	}

	s.log.Info("order extracted",
		"run_id", run.ID.String(), "order_number", order.OrderNumber,
		"lines", len(order.Lines), "confidence", order.Confidence)
	return order, nil
}

// renderExtractPrompt flattens the parse result into the user prompt:
// document text first, then each table as pipe-separated rows.
func renderExtractPrompt(parsed parseResult) string {
	var b strings.Builder
	b.WriteString("DOCUMENT TEXT:\n")
	b.WriteString(parsed.PrimaryText)
	for i, table := range parsed.Tables {
		fmt.Fprintf(&b, "\n\nTABLE %d (page %d):\n", i+1, table.Page)
		for _, row := range table.Rows {
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func extractSchema() map[string]any {
	line := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"line_number": map[string]any{"type": "integer"},
			"sku":         map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"quantity":    map[string]any{"type": "number"},
			"unit_price":  map[string]any{"type": "number"},
			"total":       map[string]any{"type": "number"},
			"image_urls":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"line_number", "sku", "description", "quantity", "unit_price", "total", "image_urls"},
		"additionalProperties": false,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"order_number":  map[string]any{"type": "string"},
			"supplier_name": map[string]any{"type": "string"},
			"order_date":    map[string]any{"type": "string"},
			"currency":      map[string]any{"type": "string"},
			"subtotal":      map[string]any{"type": "number"},
			"tax":           map[string]any{"type": "number"},
			"total":         map[string]any{"type": "number"},
			"lines":         map[string]any{"type": "array", "items": line},
			"confidence":    map[string]any{"type": "number"},
		},
		"required":             []string{"order_number", "supplier_name", "order_date", "currency", "subtotal", "tax", "total", "lines", "confidence"},
		"additionalProperties": false,
	}
}

// decodeExtracted converts the model's generic JSON object into the typed
// result, clamping confidence into [0, 1].
func decodeExtracted(obj map[string]any) (*ExtractedOrder, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var order ExtractedOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("model output does not match schema: %w", err)
	}
	order.OrderNumber = strings.TrimSpace(order.OrderNumber)
	if order.Confidence < 0 {
		order.Confidence = 0
	}
	if order.Confidence > 1 {
		order.Confidence = 1
	}
	for i := range order.Lines {
		order.Lines[i].SKU = strings.TrimSpace(order.Lines[i].SKU)
		if order.Lines[i].LineNumber == 0 {
			order.Lines[i].LineNumber = i + 1
		}
	}
	return &order, nil
}
