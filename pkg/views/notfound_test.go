package views

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotFound_Content(t *testing.T) {
	page := NotFound()
	for _, want := range []string{"404 - Page Not Found", "The page you are looking for does not exist."} {
		if !bytes.Contains(page, []byte(want)) {
			t.Errorf("page missing %q:\n%s", want, page)
		}
	}
}

func TestNotFound_Idempotent(t *testing.T) {
	first := NotFound()
	for i := 0; i < 10; i++ {
		if got := NotFound(); !bytes.Equal(got, first) {
			t.Fatalf("render %d differs:\n%s\nvs\n%s", i, got, first)
		}
	}
}

func TestNotFound_ReturnsCopy(t *testing.T) {
	page := NotFound()
	page[0] = 'X'
	if NotFound()[0] == 'X' {
		t.Error("mutating a returned page changed later renders")
	}
}

func TestNotFoundHandler(t *testing.T) {
	h := NotFoundHandler()
	for _, path := range []string{"/", "/nope", "/api/v1/unknown?x=1"} {
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

			if rec.Code != http.StatusNotFound {
				t.Errorf("%s %s: status = %d; want 404", method, path, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
				t.Errorf("%s %s: Content-Type = %q", method, path, ct)
			}
			if !bytes.Equal(rec.Body.Bytes(), NotFound()) {
				t.Errorf("%s %s: body differs from NotFound()", method, path)
			}
		}
	}
}

func TestNotFoundHandler_Head(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFoundHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD body = %q; want empty", rec.Body.String())
	}
}
