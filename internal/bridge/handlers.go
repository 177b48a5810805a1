package bridge

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nmslite/nmslite/internal/auth"
	"github.com/nmslite/nmslite/internal/commandhandler"
	"github.com/nmslite/nmslite/internal/history"
	"github.com/nmslite/nmslite/internal/hostmanager"
	"github.com/nmslite/nmslite/internal/monitormanager"
)

type authHandler struct {
	service *auth.Service
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[auth.LoginRequest](w, r)
	if !ok {
		return
	}
	if req.Username == "" || req.Password == "" {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "username and password are required", nil)
		return
	}

	resp, err := h.service.Login(req.Username, req.Password)
	if err != nil {
		sendError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", nil)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

type hostHandler struct {
	hosts *hostmanager.Manager
}

func (h *hostHandler) list(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, h.hosts.ListHosts())
}

func (h *hostHandler) get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "host")
	snap, ok := h.hosts.GetHost(name)
	if !ok {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "host not found", nil)
		return
	}
	sendJSON(w, http.StatusOK, snap)
}

type monitorHandler struct {
	monitors *monitormanager.Manager
}

func (h *monitorHandler) list(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "host")
	descriptors, err := h.monitors.ListMonitors(name)
	if err != nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		return
	}
	sendJSON(w, http.StatusOK, descriptors)
}

// refreshCategory handles POST /hosts/{host}/monitors/categories/{category}/refresh
func (h *monitorHandler) refreshCategory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "host")
	category := chi.URLParam(r, "category")

	ids, err := h.monitors.RefreshMonitorsOfCategory(name, category)
	if err != nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		return
	}
	sendJSON(w, http.StatusAccepted, map[string]any{"invocation_ids": ids})
}

// refreshByID handles POST /hosts/{host}/monitors/{monitor}/refresh
func (h *monitorHandler) refreshByID(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "host")
	monitorID := chi.URLParam(r, "monitor")

	id, err := h.monitors.RefreshMonitorsByID(name, monitorID)
	if err != nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		return
	}
	sendJSON(w, http.StatusAccepted, map[string]any{"invocation_id": id})
}

type commandHandlerAPI struct {
	commands *commandhandler.Manager
}

func (h *commandHandlerAPI) list(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "host")
	descriptors, err := h.commands.ListCommands(name)
	if err != nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		return
	}
	sendJSON(w, http.StatusOK, descriptors)
}

type executeRequest struct {
	TargetIDs []string `json:"target_ids"`
}

func (h *commandHandlerAPI) execute(w http.ResponseWriter, r *http.Request) {
	hostName := chi.URLParam(r, "host")
	commandID := chi.URLParam(r, "command")

	req, ok := decodeJSON[executeRequest](w, r)
	if !ok {
		return
	}

	result, err := h.commands.Execute(hostName, commandID, req.TargetIDs)
	if err != nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

func (h *commandHandlerAPI) confirm(w http.ResponseWriter, r *http.Request) {
	hostName := chi.URLParam(r, "host")
	commandID := chi.URLParam(r, "command")

	req, ok := decodeJSON[executeRequest](w, r)
	if !ok {
		return
	}

	result, err := h.commands.ExecuteConfirmed(hostName, commandID, req.TargetIDs)
	if err != nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

type historyHandlerAPI struct {
	store *history.Store
}

func (h *historyHandlerAPI) history(w http.ResponseWriter, r *http.Request) {
	hostName := chi.URLParam(r, "host")
	limit := parseLimit(r)

	records, err := h.store.QueryHostHistory(r.Context(), hostName, limit)
	if err != nil {
		sendError(w, r, http.StatusInternalServerError, "DB_ERROR", "failed to query history", nil)
		return
	}
	sendJSON(w, http.StatusOK, records)
}

func parseLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 100
}
