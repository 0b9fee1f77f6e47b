package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 8 {
		t.Errorf("GenerateRequestID() length = %d, want 8", len(id))
	}
	if id == GenerateRequestID() {
		t.Errorf("GenerateRequestID() generated duplicate IDs: %s", id)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID(empty context) = %q, want empty string", got)
	}
	if got := Prefix(ctx); got != "" {
		t.Errorf("Prefix(empty context) = %q", got)
	}

	ctx = WithRequestID(ctx, "test1234")
	if got := GetRequestID(ctx); got != "test1234" {
		t.Errorf("GetRequestID() = %q, want test1234", got)
	}
	if got := Prefix(ctx); got != "[test1234] " {
		t.Errorf("Prefix() = %q", got)
	}
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generated", incoming: "", keep: false},
		{name: "reused", incoming: "upstream-42", keep: true},
		{name: "rejected", incoming: "bad id\n", keep: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(HeaderRequestID)
			if got == "" || got != seen {
				t.Fatalf("header %q, context %q", got, seen)
			}
			if tt.keep && got != tt.incoming {
				t.Fatalf("expected incoming id to be reused, got %q", got)
			}
			if !tt.keep && got == tt.incoming {
				t.Fatalf("expected a generated id, got %q", got)
			}
		})
	}
}
