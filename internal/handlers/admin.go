package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/store"
)

// Admin is the configuration CRUD surface under /api. Every mutation
// reloads the routing snapshot so the engine picks the change up without
// a restart; requests already in flight keep the snapshot they resolved.
type Admin struct {
	store   *store.Store
	manager *config.Manager
	logger  *slog.Logger
}

func NewAdmin(st *store.Store, manager *config.Manager, logger *slog.Logger) *Admin {
	return &Admin{store: st, manager: manager, logger: logger}
}

// Register mounts the admin endpoints. Patterns carry the full path so the
// mux can be mounted under the /api prefix without stripping.
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/vendors", a.listVendors)
	mux.HandleFunc("POST /api/vendors", a.createVendor)
	mux.HandleFunc("PUT /api/vendors/{id}", a.updateVendor)
	mux.HandleFunc("DELETE /api/vendors/{id}", a.deleteVendor)

	mux.HandleFunc("GET /api/services", a.listServices)
	mux.HandleFunc("POST /api/services", a.createService)
	mux.HandleFunc("PUT /api/services/{id}", a.updateService)
	mux.HandleFunc("DELETE /api/services/{id}", a.deleteService)

	mux.HandleFunc("GET /api/routes", a.listRoutes)
	mux.HandleFunc("POST /api/routes", a.createRoute)
	mux.HandleFunc("PUT /api/routes/{id}", a.updateRoute)
	mux.HandleFunc("DELETE /api/routes/{id}", a.deleteRoute)
	mux.HandleFunc("POST /api/routes/{id}/activate", a.activateRoute)

	mux.HandleFunc("GET /api/rules", a.listRules)
	mux.HandleFunc("POST /api/rules", a.upsertRule)
	mux.HandleFunc("DELETE /api/rules/{id}", a.deleteRule)

	mux.HandleFunc("GET /api/config", a.getConfig)
	mux.HandleFunc("PUT /api/config", a.putConfig)

	mux.HandleFunc("GET /api/logs", a.listLogs)
	mux.HandleFunc("GET /api/logs/{id}", a.getLog)
	mux.HandleFunc("DELETE /api/logs", a.clearLogs)
	mux.HandleFunc("GET /api/stats/usage", a.usageStats)

	mux.HandleFunc("POST /api/reload", a.reload)
	mux.HandleFunc("GET /api/export", a.exportBundle)
	mux.HandleFunc("POST /api/import", a.importBundle)
}

func (a *Admin) listVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := a.store.ListVendors()
	if err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, vendors)
}

func (a *Admin) createVendor(w http.ResponseWriter, r *http.Request) {
	var v config.Vendor
	if !a.decode(w, r, &v) {
		return
	}

	created, err := a.store.CreateVendor(v)
	if err != nil {
		a.storeError(w, err, http.StatusBadRequest)
		return
	}

	a.reloadSnapshot()
	writeJSON(w, http.StatusCreated, created)
}

func (a *Admin) updateVendor(w http.ResponseWriter, r *http.Request) {
	var v config.Vendor
	if !a.decode(w, r, &v) {
		return
	}

	v.ID = r.PathValue("id")

	updated, err := a.store.UpdateVendor(v)
	if err != nil {
		a.storeError(w, err, http.StatusBadRequest)
		return
	}

	a.reloadSnapshot()
	writeJSON(w, http.StatusOK, updated)
}

func (a *Admin) deleteVendor(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteVendor(r.PathValue("id")); err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	a.reloadSnapshot()
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := a.store.ListServices()
	if err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, services)
}

func (a *Admin) createService(w http.ResponseWriter, r *http.Request) {
	var svc config.Service
	if !a.decode(w, r, &svc) {
		return
	}

	created, err := a.store.CreateService(svc)
	if err != nil {
		a.storeError(w, err, http.StatusBadRequest)
		return
	}

	a.reloadSnapshot()
	writeJSON(w, http.StatusCreated, created)
}

func (a *Admin) updateService(w http.ResponseWriter, r *http.Request) {
	var svc config.Service
	if !a.decode(w, r, &svc) {
		return
	}

	svc.ID = r.PathValue("id")

	updated, err := a.store.UpdateService(svc)
	if err != nil {
		a.storeError(w, err, http.StatusBadRequest)
		return
	}

	a.reloadSnapshot()
	writeJSON(w, http.StatusOK, updated)
}

func (a *Admin) deleteService(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteService(r.PathValue("id")); err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	a.reloadSnapshot()
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := a.store.ListRoutes()
	if err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, routes)
}

func (a *Admin) createRoute(w http.ResponseWriter, r *http.Request) {
	var rt config.Route
	if !a.decode(w, r, &rt) {
		return
	}

	created, err := a.store.CreateRoute(rt)
	if err != nil {
		a.storeError(w, err, http.StatusBadRequest)
		return
	}

	a.reloadSnapshot()
	writeJSON(w, http.StatusCreated, created)
}

func (a *Admin) updateRoute(w http.ResponseWriter, r *http.Request) {
	var rt config.Route
	if !a.decode(w, r, &rt) {
		return
	}

	rt.ID = r.PathValue("id")

	updated, err := a.store.UpdateRoute(rt)
	if err != nil {
		a.storeError(w, err, http.StatusBadRequest)
		return
	}

	a.reloadSnapshot()
	writeJSON(w, http.StatusOK, updated)
}

func (a *Admin) deleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteRoute(r.PathValue("id")); err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	a.reloadSnapshot()
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) activateRoute(w http.ResponseWriter, r *http.Request) {
	activated, err := a.store.ActivateRoute(r.PathValue("id"))
	if err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	a.reloadSnapshot()
	writeJSON(w, http.StatusOK, activated)
}

func (a *Admin) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.store.ListRules(r.URL.Query().Get("routeId"))
	if err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rules)
}

func (a *Admin) upsertRule(w http.ResponseWriter, r *http.Request) {
	var rule config.Rule
	if !a.decode(w, r, &rule) {
		return
	}

	saved, err := a.store.UpsertRule(rule)
	if err != nil {
		a.storeError(w, err, http.StatusBadRequest)
		return
	}

	a.reloadSnapshot()
	writeJSON(w, http.StatusOK, saved)
}

func (a *Admin) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteRule(r.PathValue("id")); err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	a.reloadSnapshot()
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.store.AppConfig()
	if err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

func (a *Admin) putConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.AppConfig
	if !a.decode(w, r, &cfg) {
		return
	}

	if err := a.store.SaveAppConfig(cfg); err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	a.reloadSnapshot()
	writeJSON(w, http.StatusOK, cfg)
}

func (a *Admin) listLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := store.LogQuery{
		TargetType:  q.Get("targetType"),
		ContentType: q.Get("contentType"),
		ServiceID:   q.Get("serviceId"),
		Page:        atoi(q.Get("page")),
		PageSize:    atoi(q.Get("pageSize")),
	}

	logs, total, err := a.store.ListRequestLogs(query)
	if err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  logs,
		"total": total,
	})
}

func (a *Admin) getLog(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.GetRequestLog(r.PathValue("id"))
	if err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (a *Admin) clearLogs(w http.ResponseWriter, r *http.Request) {
	deleted, err := a.store.ClearRequestLogs()
	if err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (a *Admin) usageStats(w http.ResponseWriter, r *http.Request) {
	usage, err := a.store.UsageByService()
	if err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, usage)
}

func (a *Admin) reload(w http.ResponseWriter, r *http.Request) {
	if _, err := a.manager.Reload(); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "reload: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"reloaded": true})
}

func (a *Admin) exportBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := a.store.Export()
	if err != nil {
		a.storeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}

func (a *Admin) importBundle(w http.ResponseWriter, r *http.Request) {
	var bundle store.Bundle
	if !a.decode(w, r, &bundle) {
		return
	}

	if err := a.store.Import(bundle); err != nil {
		a.storeError(w, err, http.StatusBadRequest)
		return
	}

	a.reloadSnapshot()
	writeJSON(w, http.StatusOK, map[string]bool{"imported": true})
}

// decode reads a JSON request body, answering 400 itself on garbage.
func (a *Admin) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "decode request body: "+err.Error())
		return false
	}

	return true
}

// storeError maps store sentinels onto HTTP statuses. fallback classifies
// the residue: 400 where the client supplied the data, 500 elsewhere.
func (a *Admin) storeError(w http.ResponseWriter, err error, fallback int) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrReferenced):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		if fallback == http.StatusInternalServerError {
			a.logger.Error("admin store error", "error", err)
		}

		writeJSONError(w, fallback, err.Error())
	}
}

func (a *Admin) reloadSnapshot() {
	if _, err := a.manager.Reload(); err != nil {
		a.logger.Error("snapshot reload after mutation", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}

	return n
}
