// Package api is the HTTP/WebSocket boundary: connection lifecycle,
// schema introspection, table data, watch management, dry-run execution
// and the UI event channel.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tabletrace/tabletrace/internal/bus"
	"github.com/tabletrace/tabletrace/internal/change"
	"github.com/tabletrace/tabletrace/internal/config"
	"github.com/tabletrace/tabletrace/internal/dryrun"
	"github.com/tabletrace/tabletrace/internal/pgw"
	"github.com/tabletrace/tabletrace/internal/realtime"
	"github.com/tabletrace/tabletrace/internal/watch"
)

// Handlers holds the shared components the routes operate on.
type Handlers struct {
	GW       *pgw.Gateway
	Poller   *watch.Poller
	Profiles *config.ProfileStore
	Hub      *Hub

	mu       sync.Mutex
	supabase *realtime.Client
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusPayload is the {status, message?} shape for both connections.
func statusPayload(s change.ConnState) map[string]any {
	p := map[string]any{"status": s.Status}
	if msg := s.StatusMessage(); msg != "" {
		p["message"] = msg
	}
	return p
}

// --- connection ---

func (h *Handlers) handleConnectionTest(w http.ResponseWriter, r *http.Request) {
	var cfg config.PgConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := pgw.TestConnection(r.Context(), cfg); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  change.StatusConnected,
		"message": "Connection successful",
	})
}

func (h *Handlers) handleConnect(w http.ResponseWriter, r *http.Request) {
	var cfg config.PgConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Snapshots from a previous database are meaningless against the new
	// one; the watcher is fully reset before the switch.
	h.Poller.Stop()
	h.Poller.Clear()

	if err := h.GW.Connect(r.Context(), cfg); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, statusPayload(h.GW.State()))
}

func (h *Handlers) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.Poller.Stop()
	h.Poller.Clear()
	h.GW.Disconnect()
	writeJSON(w, http.StatusOK, statusPayload(h.GW.State()))
}

func (h *Handlers) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusPayload(h.GW.State()))
}

// --- schema ---

func (h *Handlers) handleTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.GW.ListTables(r.Context())
	if err != nil {
		writeError(w, gatewayStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (h *Handlers) handleForeignKeys(w http.ResponseWriter, r *http.Request) {
	fks, err := h.GW.ListForeignKeys(r.Context())
	if err != nil {
		writeError(w, gatewayStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, fks)
}

func (h *Handlers) handleTableStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.GW.Stats(r.Context())
	if err != nil {
		writeError(w, gatewayStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) handleColumns(w http.ResponseWriter, r *http.Request) {
	schema, table, ok := tableParams(w, r)
	if !ok {
		return
	}
	cols, err := h.GW.ListColumns(r.Context(), schema, table)
	if err != nil {
		writeError(w, gatewayStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

// --- data ---

func (h *Handlers) handleRowCount(w http.ResponseWriter, r *http.Request) {
	schema, table, ok := tableParams(w, r)
	if !ok {
		return
	}
	count, err := h.GW.RowCount(r.Context(), schema, table)
	if err != nil {
		writeError(w, gatewayStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (h *Handlers) handleRows(w http.ResponseWriter, r *http.Request) {
	schema, table, ok := tableParams(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	rows, err := h.GW.Rows(r.Context(), schema, table, limit, offset)
	if err != nil {
		writeError(w, gatewayStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// --- dry run ---

func (h *Handlers) handleDryRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := h.GW.AcquireSession(r.Context())
	if err != nil {
		writeError(w, gatewayStatus(err), err)
		return
	}
	defer session.Release()

	result, err := dryrun.Evaluate(r.Context(), session, string(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- watch ---

type watchRequest struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

func (h *Handlers) handleWatchStart(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Table == "" {
		writeError(w, http.StatusBadRequest, errors.New("body must be {schema, table}"))
		return
	}
	if req.Schema == "" {
		req.Schema = "public"
	}

	if err := h.Poller.AddTable(r.Context(), req.Schema, req.Table); err != nil {
		writeError(w, gatewayStatus(err), err)
		return
	}
	if b, started := h.Poller.Start(); started {
		go h.Hub.Forward(b)
	}
	writeJSON(w, http.StatusOK, map[string]any{"watched": h.Poller.WatchedTables()})
}

func (h *Handlers) handleWatchStop(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Table == "" {
		writeError(w, http.StatusBadRequest, errors.New("body must be {schema, table}"))
		return
	}
	if req.Schema == "" {
		req.Schema = "public"
	}

	h.Poller.RemoveTable(req.Schema, req.Table)
	if len(h.Poller.WatchedTables()) == 0 {
		h.Poller.Stop()
	}
	writeJSON(w, http.StatusOK, map[string]any{"watched": h.Poller.WatchedTables()})
}

func (h *Handlers) handleWatchStopAll(w http.ResponseWriter, r *http.Request) {
	h.Poller.Clear()
	h.Poller.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"watched": []string{}})
}

func (h *Handlers) handleWatchedTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"watched": h.Poller.WatchedTables()})
}

// --- supabase ---

func (h *Handlers) handleSupabaseTest(w http.ResponseWriter, r *http.Request) {
	var cfg config.SupabaseConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := realtime.TestConnection(r.Context(), cfg); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  change.StatusConnected,
		"message": "Connection successful",
	})
}

func (h *Handlers) handleSupabaseConnect(w http.ResponseWriter, r *http.Request) {
	var cfg config.SupabaseConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.supabase != nil {
		h.supabase.Disconnect()
		h.supabase = nil
	}

	client := realtime.NewClient(cfg)
	b := bus.New(bus.DefaultCapacity)
	if err := client.Connect(r.Context(), b); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	h.supabase = client
	go h.Hub.Forward(b)
	writeJSON(w, http.StatusOK, statusPayload(client.State()))
}

func (h *Handlers) handleSupabaseDisconnect(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.supabase != nil {
		h.supabase.Disconnect()
	}
	writeJSON(w, http.StatusOK, statusPayload(h.supabaseState()))
}

func (h *Handlers) handleSupabaseStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, statusPayload(h.supabaseState()))
}

// supabaseState; callers hold h.mu.
func (h *Handlers) supabaseState() change.ConnState {
	if h.supabase == nil {
		return change.Disconnected()
	}
	return h.supabase.State()
}

// --- profiles ---

func (h *Handlers) handleProfilesList(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Profiles.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (h *Handlers) handleProfileSave(w http.ResponseWriter, r *http.Request) {
	var p config.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if p.Type != config.TypePostgres && p.Type != config.TypeSupabase {
		writeError(w, http.StatusBadRequest, errors.New("type must be postgres or supabase"))
		return
	}
	saved, err := h.Profiles.Save(p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handlers) handleProfileDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Profiles.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func tableParams(w http.ResponseWriter, r *http.Request) (schema, table string, ok bool) {
	schema = r.URL.Query().Get("schema")
	table = r.URL.Query().Get("table")
	if schema == "" {
		schema = "public"
	}
	if table == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing table parameter"))
		return "", "", false
	}
	return schema, table, true
}

func queryInt(r *http.Request, name string, fallback int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		zap.L().Debug("ignoring bad query parameter", zap.String("param", name), zap.String("value", raw))
		return fallback
	}
	return n
}

// gatewayStatus maps a gateway error onto an HTTP status.
func gatewayStatus(err error) int {
	if errors.Is(err, pgw.ErrNotConnected) {
		return http.StatusConflict
	}
	if errors.Is(err, watch.ErrMissingPrimaryKey) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
