package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/star/aprstrack/internal/httputil"
	"github.com/star/aprstrack/internal/telemetry"
)

const (
	defaultWindow = time.Hour
	maxWindow     = 30 * 24 * time.Hour
)

// Recency window modes.
const (
	modeWallclock = "wallclock"
	modeLatest    = "latest"
)

// historyResponse is a recency view of the history. Fallback is set when the
// window held nothing and the full history is returned instead.
type historyResponse struct {
	Mode     string             `json:"mode"`
	Window   string             `json:"window"`
	Source   telemetry.Source   `json:"source,omitempty"`
	Fallback bool               `json:"fallback"`
	Count    int                `json:"count"`
	Records  []telemetry.Record `json:"records"`
}

// parseSource reads the optional ?source= filter. Empty means all sources.
func parseSource(r *http.Request) (telemetry.Source, bool) {
	src := telemetry.Source(r.URL.Query().Get("source"))
	switch src {
	case "", telemetry.SourceLight, telemetry.SourceEagle:
		return src, true
	}
	return "", false
}

func filter(history []telemetry.Record, src telemetry.Source) []telemetry.Record {
	if src == "" {
		return history
	}
	return telemetry.FilterSource(history, src)
}

func latestHandler(store *telemetry.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src, ok := parseSource(r)
		if !ok {
			httputil.WriteError(w, http.StatusBadRequest, "unknown source")
			return
		}
		rec, ok := telemetry.Latest(filter(store.Get().Records, src))
		if !ok {
			httputil.WriteError(w, http.StatusNotFound, "no telemetry")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, rec)
	}
}

func historyHandler(store *telemetry.Store, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		src, ok := parseSource(r)
		if !ok {
			httputil.WriteError(w, http.StatusBadRequest, "unknown source")
			return
		}

		window := defaultWindow
		if v := q.Get("window"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 || d > maxWindow {
				httputil.WriteError(w, http.StatusBadRequest, "window must be a positive duration up to 720h")
				return
			}
			window = d
		}

		mode := q.Get("mode")
		if mode == "" {
			mode = modeWallclock
		}

		history := filter(store.Get().Records, src)
		var recent []telemetry.Record
		switch mode {
		case modeWallclock:
			recent = telemetry.RecentSince(history, window, now())
		case modeLatest:
			recent = telemetry.RecentToLatest(history, window)
		default:
			httputil.WriteError(w, http.StatusBadRequest, "mode must be wallclock or latest")
			return
		}

		resp := historyResponse{
			Mode:    mode,
			Window:  window.String(),
			Source:  src,
			Records: recent,
		}
		if len(recent) == 0 && len(history) > 0 {
			resp.Fallback = true
			resp.Records = history
		}
		if resp.Records == nil {
			resp.Records = []telemetry.Record{}
		}
		resp.Count = len(resp.Records)
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

func pointingHandler(p Poller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, p.Status())
	}
}

func pollHandler(logger *slog.Logger, p Poller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queued := p.Trigger()
		logger.Info("poll requested", "component", "api", "queued", queued)
		httputil.WriteJSON(w, http.StatusAccepted, map[string]bool{
			"queued":  queued,
			"pending": !queued,
		})
	}
}
