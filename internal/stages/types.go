package stages

// ExtractedOrder is the structured output of the extract stage and the
// input to persist. It lives in the run's result store between stages.
type ExtractedOrder struct {
	OrderNumber  string          `json:"order_number"`
	SupplierName string          `json:"supplier_name,omitempty"`
	OrderDate    string          `json:"order_date,omitempty"` // YYYY-MM-DD
	Currency     string          `json:"currency,omitempty"`
	Subtotal     float64         `json:"subtotal"`
	Tax          float64         `json:"tax"`
	Total        float64         `json:"total"`
	Lines        []ExtractedLine `json:"lines"`
	Confidence   float64         `json:"confidence"`
}

type ExtractedLine struct {
	LineNumber  int      `json:"line_number"`
	SKU         string   `json:"sku,omitempty"`
	Description string   `json:"description,omitempty"`
	Quantity    float64  `json:"quantity"`
	UnitPrice   float64  `json:"unit_price"`
	Total       float64  `json:"total"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

// parseResult is what the parse stage leaves in the result store.
type parseResult struct {
	Provider    string       `json:"provider"`
	Pages       int          `json:"pages"`
	PrimaryText string       `json:"primary_text"`
	Tables      []parseTable `json:"tables,omitempty"`
}

type parseTable struct {
	Page int        `json:"page"`
	Rows [][]string `json:"rows"`
}

// persistResult records what persist created, for products/sync/recovery.
type persistResult struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Renamed     bool   `json:"renamed,omitempty"`
}
