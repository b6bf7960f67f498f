package aprs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/star/aprstrack/internal/telemetry"
)

// DefaultBaseURL is the aprs.fi "get" endpoint.
const DefaultBaseURL = "https://api.aprs.fi/api/get"

// maxBodyBytes bounds a single response; a loc query for one station is a few KB.
const maxBodyBytes = 1 << 20

// ErrFetchFailure is returned for any fetch that does not yield an "ok" payload.
var ErrFetchFailure = errors.New("fetch failure")

// Fetcher retrieves station position reports from the aprs.fi API.
type Fetcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher. An empty baseURL selects DefaultBaseURL.
func NewFetcher(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// BaseURL returns the configured endpoint.
func (f *Fetcher) BaseURL() string {
	return f.baseURL
}

// Fetch requests the latest position report for callsign.
func (f *Fetcher) Fetch(ctx context.Context, callsign string) (telemetry.Payload, error) {
	ctx, span := otel.Tracer("aprstrack/aprs").Start(ctx, "aprs.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("aprs.callsign", callsign))

	p, err := f.fetch(ctx, callsign)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return telemetry.Payload{}, err
	}
	span.SetAttributes(attribute.Int("aprs.found", p.Found))
	return p, nil
}

func (f *Fetcher) fetch(ctx context.Context, callsign string) (telemetry.Payload, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return telemetry.Payload{}, fmt.Errorf("%w: parsing base url: %v", ErrFetchFailure, err)
	}
	q := u.Query()
	q.Set("name", callsign)
	q.Set("what", "loc")
	q.Set("apikey", f.apiKey)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return telemetry.Payload{}, fmt.Errorf("%w: creating request: %v", ErrFetchFailure, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return telemetry.Payload{}, fmt.Errorf("%w: requesting %s: %v", ErrFetchFailure, callsign, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return telemetry.Payload{}, fmt.Errorf("%w: unexpected status code %d for %s", ErrFetchFailure, resp.StatusCode, callsign)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return telemetry.Payload{}, fmt.Errorf("%w: reading response body: %v", ErrFetchFailure, err)
	}
	if len(body) > maxBodyBytes {
		return telemetry.Payload{}, fmt.Errorf("%w: response exceeds %d byte limit", ErrFetchFailure, maxBodyBytes)
	}

	var p telemetry.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return telemetry.Payload{}, fmt.Errorf("%w: decoding response: %v", ErrFetchFailure, err)
	}
	if p.Result != "ok" {
		return telemetry.Payload{}, fmt.Errorf("%w: api result %q: %s", ErrFetchFailure, p.Result, p.Description)
	}

	f.logger.Debug("aprs fetch complete",
		"component", "aprs",
		"callsign", callsign,
		"found", p.Found,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return p, nil
}
