package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"tagged fatal", FatalError("unsupported document type"), false},
		{"tagged validation", ValidationError("missing order number"), false},
		{"tagged retryable", RetryableError("remote hiccup"), true},
		{"context canceled", context.Canceled, true},
		{"deadline", context.DeadlineExceeded, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"foreign key", &pgconn.PgError{Code: "23503"}, false},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"lock unavailable", &pgconn.PgError{Code: "55P03"}, true},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"rate limited", errors.New("openai: status 429 too many requests"), true},
		{"bad gateway", errors.New("sync: status 502 from remote"), true},
		{"timeout string", errors.New("dial tcp: i/o timeout"), true},
		{"conn reset", errors.New("read: connection reset by peer"), true},
		{"invalid payload", errors.New("invalid line quantity"), false},
		{"unknown defaults retryable", errors.New("something odd happened"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryableUnwrapsStageError(t *testing.T) {
	err := NewStageError(StageSync, RetryableError("remote 503"))
	if !Retryable(err) {
		t.Fatalf("stage-wrapped retryable classified as fatal")
	}
	err = NewStageError(StagePersist, FatalError("schema mismatch"))
	if Retryable(err) {
		t.Fatalf("stage-wrapped fatal classified as retryable")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "idx_po_tenant_number"}
	if !IsUniqueViolation(err, "") {
		t.Fatalf("23505 not recognized")
	}
	if !IsUniqueViolation(err, "idx_po_tenant_number") {
		t.Fatalf("constraint match failed")
	}
	if IsUniqueViolation(err, "idx_product_tenant_sku") {
		t.Fatalf("matched the wrong constraint")
	}
	if IsUniqueViolation(errors.New("duplicate key"), "") {
		t.Fatalf("plain error mistaken for pg unique violation")
	}
}
