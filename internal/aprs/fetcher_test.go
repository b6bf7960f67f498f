package aprs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/star/aprstrack/internal/telemetry"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const lightResponse = `{"command":"get","result":"ok","found":1,"what":"loc","entries":[
	{"name":"KQ4AOR-11","time":"1718000000","lat":"34.2001","lng":"-118.1702",
	 "altitude":"18250.4","speed":"31.5","course":"271",
	 "comment":"LightAPRS -41.25C 72.4hPa 3.91V"}]}`

// TestFetcherSuccess verifies query construction and payload decoding.
func TestFetcherSuccess(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"name": q.Get("name"), "what": q.Get("what"),
			"apikey": q.Get("apikey"), "format": q.Get("format"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(lightResponse))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.URL, "secret", 0, testLogger)
	p, err := fetcher.Fetch(context.Background(), "KQ4AOR-11")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{"name": "KQ4AOR-11", "what": "loc", "apikey": "secret", "format": "json"}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}

	rec, err := telemetry.ParseLight(p)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.Voltage.Value != 3.91 {
		t.Errorf("voltage = %v, want 3.91", rec.Voltage.Value)
	}
}

// TestFetcherFailures verifies every failure mode maps to ErrFetchFailure.
func TestFetcherFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"api error result", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"command":"get","result":"fail","description":"authentication failed: wrong API key"}`))
		}},
		{"invalid json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>maintenance</html>`))
		}},
		{"oversized body", func(w http.ResponseWriter, r *http.Request) {
			chunk := strings.Repeat("A", 64*1024)
			for i := 0; i < 20; i++ {
				if _, err := w.Write([]byte(chunk)); err != nil {
					return
				}
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			fetcher := NewFetcher(server.URL, "key", 0, testLogger)
			_, err := fetcher.Fetch(context.Background(), "KO6DNK-11")
			if !errors.Is(err, ErrFetchFailure) {
				t.Errorf("err = %v, want ErrFetchFailure", err)
			}
		})
	}
}

func TestFetcherBodyLimitMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("A", maxBodyBytes+10)))
	}))
	defer server.Close()

	_, err := NewFetcher(server.URL, "key", 0, testLogger).Fetch(context.Background(), "X")
	if err == nil || !strings.Contains(err.Error(), "byte limit") {
		t.Errorf("expected body limit error, got: %v", err)
	}
}

func TestFetcherUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewFetcher(url, "key", 0, testLogger).Fetch(context.Background(), "X")
	if !errors.Is(err, ErrFetchFailure) {
		t.Errorf("err = %v, want ErrFetchFailure", err)
	}
}

func TestNewFetcherDefaultURL(t *testing.T) {
	if got := NewFetcher("", "key", 0, testLogger).BaseURL(); got != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", got, DefaultBaseURL)
	}
}
