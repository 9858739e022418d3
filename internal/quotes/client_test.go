package quotes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/v1/quote" {
			t.Fatalf("unexpected path %q", got)
		}
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			w.Write([]byte(`{"symbol":"AAPL","price":231.57}`))
		case "GONE":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")

	cents, ok, err := c.Quote(context.Background(), "AAPL")
	if err != nil || !ok {
		t.Fatalf("quote failed: ok=%v err=%v", ok, err)
	}
	if cents != 23157 {
		t.Fatalf("got %d want 23157", cents)
	}

	// missing symbol is a skip, not an error
	_, ok, err = c.Quote(context.Background(), "GONE")
	if err != nil || ok {
		t.Fatalf("missing symbol: ok=%v err=%v", ok, err)
	}

	// server failure is an error
	if _, _, err := c.Quote(context.Background(), "BOOM"); err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestQuoteSendsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Fatalf("missing auth header, got %q", got)
		}
		w.Write([]byte(`{"symbol":"MSFT","price":1.00}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	if _, _, err := c.Quote(context.Background(), "MSFT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
