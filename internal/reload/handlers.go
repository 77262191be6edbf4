package reload

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/reload/internal/event"
	"github.com/HerbHall/reload/internal/server"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// eventBuffer bounds how far a slow websocket client may fall behind before
// events are dropped for it.
const eventBuffer = 64

type statusResponse struct {
	Backend         string   `json:"backend"`
	IntervalMs      int64    `json:"interval_ms"`
	Extensions      []string `json:"extensions"`
	Signal          string   `json:"signal"`
	DebounceMs      int64    `json:"debounce_ms"`
	MaxStatFailures int      `json:"max_stat_failures"`
	Roots           []string `json:"roots"`
	Ignore          []string `json:"ignore"`
	Targets         int      `json:"targets"`
	Restarts        uint64   `json:"restarts"`
	Running         bool     `json:"running"`
	StartedAt       string   `json:"started_at,omitempty"`
}

type ignoreRequest struct {
	Names  []string `json:"names"`
	Rescan bool     `json:"rescan"`
}

type rescanResponse struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Targets int `json:"targets"`
}

func (p *Plugin) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets := p.Targets()
	if targets == nil {
		targets = []WatchTarget{}
	}
	writeJSON(w, r, http.StatusOK, targets)
}

func (p *Plugin) handleStatus(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	resp := statusResponse{
		Backend:         p.opts.Backend,
		IntervalMs:      p.opts.Interval.Milliseconds(),
		Extensions:      p.opts.Extensions,
		Signal:          p.opts.Signal,
		DebounceMs:      p.opts.Debounce.Milliseconds(),
		MaxStatFailures: p.opts.MaxStatFailures,
		Roots:           p.resolved,
		Ignore:          p.ignore.Names(),
		Running:         p.started && !p.stopped,
	}
	if p.trigger != nil {
		resp.Restarts = p.trigger.Restarts()
	}
	if p.started {
		resp.StartedAt = p.startedAt.Format(time.RFC3339)
	}
	source := p.source
	p.mu.Unlock()

	if source != nil {
		resp.Targets = len(source.Targets())
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (p *Plugin) handleIgnore(w http.ResponseWriter, r *http.Request) {
	var req ignoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body: "+err.Error(), r.URL.Path)
		return
	}

	names := make([]string, 0, len(req.Names))
	for _, name := range req.Names {
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, `/\`) {
			server.BadRequest(w, "ignore entries must be directory basenames", r.URL.Path)
			return
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		server.BadRequest(w, "names is required", r.URL.Path)
		return
	}

	p.ignore.Add(names...)
	p.logger.Info("ignore list extended", zap.Strings("names", names))

	if req.Rescan {
		p.handleRescan(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string][]string{"ignore": p.ignore.Names()})
}

func (p *Plugin) handleRescan(w http.ResponseWriter, r *http.Request) {
	added, removed, err := p.Rescan()
	if errors.Is(err, ErrNotRunning) {
		server.NotRunning(w, err.Error(), r.URL.Path)
		return
	}
	if err != nil {
		server.InternalError(w, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, r, http.StatusOK, rescanResponse{
		Added:   added,
		Removed: removed,
		Targets: len(p.Targets()),
	})
}

// handleEvents streams bus events to a websocket client until it
// disconnects or the plugin stops.
func (p *Plugin) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		p.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	events := make(chan event.Event, eventBuffer)
	unsubscribe := p.bus.SubscribeAll(func(_ context.Context, e event.Event) {
		select {
		case events <- e:
		default:
			p.logger.Debug("dropping event for slow websocket client", zap.String("topic", e.Topic))
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			conn.Close(websocket.StatusGoingAway, "reload stopped")
			return
		case e := <-events:
			if err := wsjson.Write(ctx, conn, e); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		server.InternalError(w, err.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
