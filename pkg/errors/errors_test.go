package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest},
		{code: CodeForbidden, status: http.StatusForbidden},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeConflict, status: http.StatusConflict, retryable: true},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity},
		{code: CodeInsufficientStock, status: http.StatusConflict},
		{code: CodeCouponAlreadyUsed, status: http.StatusUnprocessableEntity},
		{code: CodeGateway, status: http.StatusBadGateway, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapKeepsCauseAndDetails(t *testing.T) {
	cause := stdErrors.New("lock timeout")
	err := Wrap(CodeDependency, cause, "claim sub-order").WithDetails(map[string]string{"sub_order_id": "x"})

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if !err.Retryable() {
		t.Fatalf("dependency errors should be retryable")
	}
	if err.Details() == nil {
		t.Fatalf("expected details to be set")
	}
}

func TestCodeOfWalksChain(t *testing.T) {
	inner := New(CodeConflict, "sub-order already claimed")
	outer := fmt.Errorf("claim: %w", inner)

	if CodeOf(outer) != CodeConflict {
		t.Fatalf("expected conflict code, got %s", CodeOf(outer))
	}
	if !IsCode(outer, CodeConflict) {
		t.Fatalf("expected IsCode to match")
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatalf("untyped errors should map to internal")
	}
	if IsCode(nil, CodeInternal) {
		t.Fatalf("nil error should not match any code")
	}
}

func TestDumpIncludesChain(t *testing.T) {
	err := Wrap(CodeDependency, stdErrors.New("connection reset"), "reserve stock")
	d := Dump(err)
	if d.Code != CodeDependency {
		t.Fatalf("expected dependency code in dump, got %s", d.Code)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %d", len(d.Chain))
	}
	fields := d.Fields()
	if fields["retryable"] != true {
		t.Fatalf("expected retryable field, got %v", fields)
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("pg fields must be absent without a driver error")
	}
}

func TestDumpExtractsPostgresDiagnostics(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "55P03", Message: "lock timeout", TableName: "product_variants"}
	d := Dump(Wrap(CodeDependency, fmt.Errorf("reserve: %w", pgErr), "row lock unavailable, retry"))
	if d.PG == nil || d.PG.Code != "55P03" {
		t.Fatalf("expected pg diagnostics, got %+v", d.PG)
	}
	if d.Fields()["pg_table"] != "product_variants" {
		t.Fatalf("expected pg_table field")
	}
}
