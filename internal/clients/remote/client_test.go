package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

func testClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWith(log, srv.URL, "test-key")
}

func TestCreateOrder(t *testing.T) {
	var gotAuth string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.OrderNumber != "PO-42" {
			t.Errorf("order number = %q", req.OrderNumber)
		}
		_ = json.NewEncoder(w).Encode(OrderResponse{ID: "rem-1"})
	}))

	resp, err := c.CreateOrder(context.Background(), OrderRequest{
		ExternalRef: "run-1",
		OrderNumber: "PO-42",
		Total:       99.5,
		Lines:       []OrderLine{{SKU: "A", Quantity: 1, UnitPrice: 99.5}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if resp.ID != "rem-1" {
		t.Fatalf("remote id = %q", resp.ID)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
}

func TestRetriesOn503(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ProductResponse{ID: "rem-p"})
	}))

	resp, err := c.CreateProduct(context.Background(), ProductRequest{SKU: "A"})
	if err != nil {
		t.Fatalf("create product after retries: %v", err)
	}
	if resp.ID != "rem-p" {
		t.Fatalf("remote id = %q", resp.ID)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestNoRetryOn422(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	if _, err := c.CreateOrder(context.Background(), OrderRequest{OrderNumber: "PO-1"}); err == nil {
		t.Fatalf("expected error for 422")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (422 is not retryable)", calls)
	}
}
