package httputil

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/enverbisevac/eventbox/validator"
)

func TestQueryParam(t *testing.T) {
	r := httptest.NewRequest("GET", "/dead?limit=25&verbose=true&owner=7", nil)

	limit, err := QueryParam[int](r, "limit")
	if err != nil {
		t.Fatalf("QueryParam() error = %v", err)
	}
	if limit != 25 {
		t.Errorf("limit = %d, want 25", limit)
	}

	verbose, err := QueryParam[bool](r, "verbose")
	if err != nil {
		t.Fatalf("QueryParam() error = %v", err)
	}
	if !verbose {
		t.Error("verbose = false, want true")
	}

	owner, err := QueryParam[int64](r, "owner")
	if err != nil {
		t.Fatalf("QueryParam() error = %v", err)
	}
	if owner != 7 {
		t.Errorf("owner = %d, want 7", owner)
	}
}

func TestQueryParamMissing(t *testing.T) {
	r := httptest.NewRequest("GET", "/dead", nil)

	if _, err := QueryParam[int](r, "limit"); err == nil {
		t.Fatal("QueryParam() should fail for a missing parameter")
	}
}

func TestQueryParamConversionError(t *testing.T) {
	r := httptest.NewRequest("GET", "/dead?limit=abc", nil)

	if _, err := QueryParam[int](r, "limit"); err == nil {
		t.Fatal("QueryParam() should fail for a non-numeric value")
	}
}

func TestQueryParamValidation(t *testing.T) {
	r := httptest.NewRequest("GET", "/dead?limit=-5", nil)

	positive := func(n int) error {
		if !validator.Positive(n) {
			return errors.New("must be positive")
		}
		return nil
	}
	if _, err := QueryParam(r, "limit", positive); err == nil {
		t.Fatal("QueryParam() should fail validation")
	}
}

func TestQueryParamOrDefault(t *testing.T) {
	values := url.Values{"limit": []string{"25"}}

	if got := QueryParamOrDefault(values, "limit", 100); got != 25 {
		t.Errorf("got %d, want 25", got)
	}
	if got := QueryParamOrDefault(values, "missing", 100); got != 100 {
		t.Errorf("got %d, want default 100", got)
	}
}

func TestHas(t *testing.T) {
	r := httptest.NewRequest("GET", "/dead?limit=", nil)

	if !Has(r, "limit") {
		t.Error("Has(limit) = false, want true")
	}
	if Has(r, "owner") {
		t.Error("Has(owner) = true, want false")
	}
}
