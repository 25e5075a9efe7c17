package conflict

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

// existsStub satisfies PurchaseOrderRepo with a canned set of taken numbers.
type existsStub struct {
	taken map[string]bool
}

func (s *existsStub) CreateWithLines(context.Context, *gorm.DB, *types.PurchaseOrder, []*types.PurchaseOrderLine) error {
	return nil
}
func (s *existsStub) GetByID(context.Context, *gorm.DB, uuid.UUID) (*types.PurchaseOrder, error) {
	return nil, nil
}
func (s *existsStub) GetByRun(context.Context, *gorm.DB, uuid.UUID) (*types.PurchaseOrder, error) {
	return nil, nil
}
func (s *existsStub) ExistsOrderNumber(_ context.Context, _ *gorm.DB, _ uuid.UUID, number string) (bool, error) {
	return s.taken[number], nil
}
func (s *existsStub) HasPersistedLines(context.Context, *gorm.DB, uuid.UUID) (bool, error) {
	return false, nil
}
func (s *existsStub) UpdateFields(context.Context, *gorm.DB, uuid.UUID, map[string]interface{}) error {
	return nil
}

func newResolverWith(t *testing.T, taken ...string) *Resolver {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	m := map[string]bool{}
	for _, n := range taken {
		m[n] = true
	}
	return NewResolver(&existsStub{taken: m}, log)
}

func TestResolveFirstFreeSuffix(t *testing.T) {
	r := newResolverWith(t, "PO-100-1", "PO-100-2")
	got, err := r.Resolve(context.Background(), uuid.New(), "PO-100")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "PO-100-3" {
		t.Fatalf("resolved %q, want PO-100-3", got)
	}
}

func TestResolveFreshBaseUsesDashOne(t *testing.T) {
	r := newResolverWith(t)
	got, err := r.Resolve(context.Background(), uuid.New(), "PO-7")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "PO-7-1" {
		t.Fatalf("resolved %q, want PO-7-1", got)
	}
}

func TestResolveFallsBackToTimestamp(t *testing.T) {
	taken := make([]string, 0, maxSuffixProbes)
	for i := 1; i <= maxSuffixProbes; i++ {
		taken = append(taken, fmt.Sprintf("PO-9-%d", i))
	}
	r := newResolverWith(t, taken...)
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	r.clock = func() time.Time { return fixed }

	got, err := r.Resolve(context.Background(), uuid.New(), "PO-9")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasPrefix(got, "PO-9-") {
		t.Fatalf("resolved %q, want a PO-9- prefix", got)
	}
	for _, n := range taken {
		if got == n {
			t.Fatalf("resolved to an already-taken number %q", got)
		}
	}
}
