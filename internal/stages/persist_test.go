package stages

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/ordersight/ordersight-backend/internal/domain"
)

func TestBuildOrder(t *testing.T) {
	run := &types.WorkflowRun{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		RetryCounts: datatypes.JSON([]byte("{}")),
	}
	extracted := ExtractedOrder{
		OrderNumber:  "PO-5",
		SupplierName: "Acme",
		OrderDate:    "2026-01-31",
		Currency:     "EUR",
		Subtotal:     10,
		Tax:          2,
		Total:        12,
		Lines: []ExtractedLine{
			{LineNumber: 1, SKU: "A", Quantity: 1, UnitPrice: 10, Total: 10},
		},
	}

	po, lines := buildOrder(run, extracted, "PO-5-1")
	if po.OrderNumber != "PO-5-1" {
		t.Fatalf("order number = %q, want the resolved variant", po.OrderNumber)
	}
	if po.TenantID != run.TenantID || po.RunID != run.ID {
		t.Fatalf("order not tied to run/tenant")
	}
	if po.OrderDate == nil || po.OrderDate.Format("2006-01-02") != "2026-01-31" {
		t.Fatalf("order date not parsed: %v", po.OrderDate)
	}
	if po.Status != types.OrderStatusSaved {
		t.Fatalf("status = %q", po.Status)
	}
	if len(lines) != 1 || lines[0].SKU != "A" {
		t.Fatalf("lines not built: %+v", lines)
	}
}

func TestBuildOrderBadDate(t *testing.T) {
	run := &types.WorkflowRun{ID: uuid.New(), TenantID: uuid.New()}
	po, _ := buildOrder(run, ExtractedOrder{OrderNumber: "PO-6", OrderDate: "31/01/2026"}, "PO-6")
	if po.OrderDate != nil {
		t.Fatalf("unparseable date should stay nil, got %v", po.OrderDate)
	}
}

func TestImageKeyDeterministic(t *testing.T) {
	a := imageKey("t1", "p1", "https://cdn.example.com/x.png")
	b := imageKey("t1", "p1", "https://cdn.example.com/x.png")
	if a != b {
		t.Fatalf("same url produced different keys: %q vs %q", a, b)
	}
	c := imageKey("t1", "p1", "https://cdn.example.com/y.png")
	if a == c {
		t.Fatalf("different urls collided on %q", a)
	}
	if ext := a[len(a)-4:]; ext != ".png" {
		t.Fatalf("key extension = %q, want .png", ext)
	}
}
