package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/nmendoza/stocklane-backend/pkg/errors"
)

type reservePayload struct {
	TTLMinutes *int   `json:"ttl_minutes" validate:"omitempty,gt=0"`
	Reason     string `json:"reason" validate:"omitempty,max=10"`
}

func decode(t *testing.T, body string, dest any) error {
	t.Helper()
	req := httptest.NewRequest("POST", "/orders", strings.NewReader(body))
	return DecodeJSONBody(req, dest)
}

func TestDecodeJSONBodyAccepts(t *testing.T) {
	t.Parallel()

	var payload reservePayload
	if err := decode(t, `{"ttl_minutes": 15, "reason": "restock"}`, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.TTLMinutes == nil || *payload.TTLMinutes != 15 {
		t.Fatalf("ttl not decoded: %+v", payload)
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	var payload reservePayload
	err := decode(t, `{"ttl_minutes": 15, "bogus": true}`, &payload)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeJSONBodyReportsFieldMessages(t *testing.T) {
	t.Parallel()

	var payload reservePayload
	err := decode(t, `{"ttl_minutes": 0, "reason": "far too long reason"}`, &payload)

	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %#v", typed.Details())
	}
	if details["ttl_minutes"] != "must be greater than 0" {
		t.Errorf("ttl message = %q", details["ttl_minutes"])
	}
	if details["reason"] != "must be at most 10" {
		t.Errorf("reason message = %q", details["reason"])
	}
}
