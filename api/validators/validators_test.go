package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

type itemPayload struct {
	Quantity int `json:"quantity" validate:"min=1"`
}

type orderPayload struct {
	Method string        `json:"payment_method" validate:"required,oneof=cod gateway"`
	Items  []itemPayload `json:"items" validate:"required,min=1,dive"`
}

func newRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBodyReportsNestedFields(t *testing.T) {
	var payload orderPayload
	err := DecodeJSONBody(newRequest(`{"payment_method":"cash","items":[{"quantity":1},{"quantity":0}]}`), &payload)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("unexpected details %T", typed.Details())
	}
	if details["payment_method"] != "must be one of [cod gateway]" {
		t.Fatalf("unexpected payment_method message %q", details["payment_method"])
	}
	if details["items[1].quantity"] != "must be at least 1" {
		t.Fatalf("unexpected nested message: %v", details)
	}
}

func TestDecodeJSONBodyRejectsEmptyAndTrailingData(t *testing.T) {
	var payload orderPayload
	if err := DecodeJSONBody(newRequest(""), &payload); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for empty body, got %v", err)
	}
	body := `{"payment_method":"cod","items":[{"quantity":1}]} {}`
	if err := DecodeJSONBody(newRequest(body), &payload); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for trailing data, got %v", err)
	}
	if err := DecodeJSONBody(newRequest(`{"unknown":true}`), &payload); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for unknown field, got %v", err)
	}
}

func TestDecodeOptionalJSONBodyAcceptsEmpty(t *testing.T) {
	var payload struct {
		Reason string `json:"reason" validate:"max=5"`
	}
	if err := DecodeOptionalJSONBody(newRequest(""), &payload); err != nil {
		t.Fatalf("expected empty body to be accepted, got %v", err)
	}
	if err := DecodeOptionalJSONBody(newRequest(`{"reason":"too long"}`), &payload); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	if _, err := ParseQueryInt(req, "limit", 20, 1, 100); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected out of range error, got %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if got, err := ParseQueryInt(req, "limit", 20, 1, 100); err != nil || got != 20 {
		t.Fatalf("expected default 20, got %d err=%v", got, err)
	}
}

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	if got := SanitizeString("  héllo  ", 2); got != "h" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
	if got := SanitizeString("  ok ", 10); got != "ok" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}
