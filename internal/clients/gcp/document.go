package gcp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

// Document wraps Document AI for the parse stage: raw document bytes in,
// layout text and table cells out.
type Document interface {
	ProcessBytes(ctx context.Context, req DocAIProcessBytesRequest) (*DocAIResult, error)
	Close() error
}

type DocAIProcessBytesRequest struct {
	MimeType string
	Data     []byte
}

type DocAIResult struct {
	Provider    string       `json:"provider"`
	Processor   string       `json:"processor"`
	MimeType    string       `json:"mime_type"`
	PrimaryText string       `json:"primary_text"`
	Pages       int          `json:"pages"`
	Tables      []DocAITable `json:"tables,omitempty"`
}

type DocAITable struct {
	Page int        `json:"page"`
	Rows [][]string `json:"rows"`
}

type documentService struct {
	log       *logger.Logger
	docClient *documentai.DocumentProcessorClient

	projectID        string
	location         string
	processorID      string
	processorVersion string
}

func NewDocument(log *logger.Logger) (Document, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Document")

	projectID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID"))
	processorID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_ID"))
	if projectID == "" || processorID == "" {
		return nil, fmt.Errorf("missing DOCUMENTAI_PROJECT_ID or DOCUMENTAI_PROCESSOR_ID")
	}
	location := strings.TrimSpace(os.Getenv("DOCUMENTAI_LOCATION"))
	if location == "" {
		location = "us"
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	ctx := context.Background()
	docOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(ctx, docOpts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	slog.Info("Document AI initialized", "endpoint", endpoint)

	return &documentService{
		log:              slog,
		docClient:        c,
		projectID:        projectID,
		location:         location,
		processorID:      processorID,
		processorVersion: strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_VERSION")),
	}, nil
}

func (s *documentService) Close() error {
	if s == nil || s.docClient == nil {
		return nil
	}
	return s.docClient.Close()
}

func (s *documentService) ProcessBytes(ctx context.Context, req DocAIProcessBytesRequest) (*DocAIResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if len(req.Data) == 0 {
		return &DocAIResult{Provider: "gcp_documentai", MimeType: req.MimeType}, nil
	}
	if req.MimeType == "" {
		req.MimeType = "application/pdf"
	}

	name := s.processorName()
	resp, err := s.docClient.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  req.Data,
				MimeType: req.MimeType,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return &DocAIResult{Provider: "gcp_documentai", Processor: name, MimeType: req.MimeType}, nil
	}

	doc := resp.Document
	out := &DocAIResult{
		Provider:    "gcp_documentai",
		Processor:   name,
		MimeType:    req.MimeType,
		PrimaryText: doc.GetText(),
		Pages:       len(doc.GetPages()),
	}
	for pageIdx, page := range doc.GetPages() {
		for _, table := range page.GetTables() {
			out.Tables = append(out.Tables, DocAITable{
				Page: pageIdx + 1,
				Rows: tableRows(doc.GetText(), table),
			})
		}
	}
	return out, nil
}

func (s *documentService) processorName() string {
	if s.processorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			s.projectID, s.location, s.processorID, s.processorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		s.projectID, s.location, s.processorID)
}

func tableRows(text string, table *documentaipb.Document_Page_Table) [][]string {
	var rows [][]string
	appendRows := func(trs []*documentaipb.Document_Page_Table_TableRow) {
		for _, tr := range trs {
			var row []string
			for _, cell := range tr.GetCells() {
				row = append(row, anchorText(text, cell.GetLayout().GetTextAnchor()))
			}
			rows = append(rows, row)
		}
	}
	appendRows(table.GetHeaderRows())
	appendRows(table.GetBodyRows())
	return rows
}

func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		b.WriteString(text[start:end])
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
