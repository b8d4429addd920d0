package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_AssignsAnonID(t *testing.T) {
	var gotUserID, gotTabID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
		gotTabID = TabIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !isValidAnonID(gotUserID) {
		t.Errorf("user ID %q is not a valid anon ID", gotUserID)
	}
	if gotTabID != DefaultTabIDValue {
		t.Errorf("tab ID = %q, want default", gotTabID)
	}

	cookies := w.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == AnonCookieName && c.Value == gotUserID {
			found = true
		}
	}
	if !found {
		t.Error("anon cookie not set on response")
	}
}

func TestMiddleware_ReusesExistingCookie(t *testing.T) {
	const existing = "anon_0123456789abcdef0123456789abcdef"

	var gotUserID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if gotUserID != existing {
		t.Errorf("user ID = %q, want existing cookie value", gotUserID)
	}
}

func TestMiddleware_RejectsMalformedCookie(t *testing.T) {
	var gotUserID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon_../../etc/passwd"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if gotUserID == "anon_../../etc/passwd" {
		t.Error("malformed cookie value accepted as identity")
	}
	if !isValidAnonID(gotUserID) {
		t.Errorf("replacement ID %q is not valid", gotUserID)
	}
}

func TestTabIDSanitization(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tab-1", "tab-1"},
		{"", DefaultTabIDValue},
		{"  ", DefaultTabIDValue},
		{"bad id with spaces", DefaultTabIDValue},
		{"A.b:c_d-9", "A.b:c_d-9"},
	}
	for _, tt := range tests {
		if got := sanitizeTabID(tt.in); got != tt.want {
			t.Errorf("sanitizeTabID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTabIDFromHeader(t *testing.T) {
	var gotTabID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTabID = TabIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TabHeaderName, "tab-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if gotTabID != "tab-42" {
		t.Errorf("tab ID = %q, want tab-42", gotTabID)
	}
}
