package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/resilience"
	"github.com/sells-group/signal-cli/internal/source"
	"github.com/sells-group/signal-cli/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// newRouter builds the HTTP API.
func newRouter(env *appEnv, allowedOrigins []string) http.Handler {
	h := &apiHandler{env: env}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Post("/fetch_source_items", h.fetchSourceItems)
	r.Post("/analyze_batch", h.analyzeBatch)
	r.Post("/run_scan", h.runScan)
	r.Get("/scans", h.listScans)
	r.Get("/scans/{id}", h.getScan)
	r.Post("/launch_enrichment", h.launchEnrichment)
	r.Post("/check_enrichment", h.checkEnrichment)
	r.Get("/signals", h.listSignals)
	r.Get("/signals/{id}/contacts", h.listContacts)
	r.Post("/signals/ingest", h.ingestSignals)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type apiHandler struct {
	env *appEnv
}

func (h *apiHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *apiHandler) fetchSourceItems(w http.ResponseWriter, r *http.Request) {
	res, err := h.env.Fetcher.FetchSourceItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"new_items_saved": res.NewItemsSaved,
		"api_requests":    res.APIRequests,
	})
}

func (h *apiHandler) analyzeBatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.env.Extractor.AnalyzeBatch(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"items_processed": res.ProcessedCount,
		"signals_created": res.CreatedCount,
	})
}

type runScanRequest struct {
	ScanLogID string `json:"scan_log_id"`
	SkipFetch bool   `json:"skip_fetch"`
}

func (h *apiHandler) runScan(w http.ResponseWriter, r *http.Request) {
	var req runScanRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	if req.ScanLogID == "" {
		id, err := h.env.Orchestrator.StartScan(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"success":     true,
			"scan_log_id": id,
			"status":      model.ScanStatusRunning,
		})
		return
	}

	run, err := h.env.Orchestrator.Resume(r.Context(), req.ScanLogID, req.SkipFetch)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if run.Status.Terminal() {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"success":     true,
		"scan_log_id": run.ID,
		"status":      run.Status,
	})
}

func (h *apiHandler) getScan(w http.ResponseWriter, r *http.Request) {
	run, err := h.env.Store.GetScan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *apiHandler) listScans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runs, err := h.env.Store.ListScans(r.Context(), store.ScanFilter{
		Status: model.ScanStatus(q.Get("status")),
		Limit:  queryInt(q.Get("limit")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.ScanRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type ownerRequest struct {
	OwnerID string `json:"owner_id"`
	Batch   bool   `json:"batch"`
}

func (h *apiHandler) launchEnrichment(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("owner_id is required"))
		return
	}

	res, err := h.env.Launcher.Launch(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	body := map[string]any{
		"success":           true,
		"owner_id":          res.OwnerID,
		"enrichment_status": res.Status,
	}
	if res.Fallback {
		body["fallback"] = true
		body["contacts_created"] = res.ContactsCreated
		body["message"] = res.Message
	} else {
		body["task_id"] = res.TaskID
		body["task_url"] = res.TaskURL
		body["existing"] = res.Existing
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *apiHandler) checkEnrichment(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	if req.Batch {
		res, err := h.env.Reconciler.CheckAll(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	if req.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("owner_id or batch is required"))
		return
	}

	res, err := h.env.Reconciler.Check(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *apiHandler) listSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sigs, err := h.env.Store.ListSignals(r.Context(), store.SignalFilter{
		Status:           model.SignalStatus(q.Get("status")),
		EnrichmentStatus: model.EnrichmentStatus(q.Get("enrichment_status")),
		SignalType:       model.SignalType(q.Get("signal_type")),
		MinScore:         queryInt(q.Get("min_score")),
		Limit:            queryInt(q.Get("limit")),
		Offset:           queryInt(q.Get("offset")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if sigs == nil {
		sigs = []model.Signal{}
	}
	writeJSON(w, http.StatusOK, sigs)
}

func (h *apiHandler) listContacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.env.Store.GetSignal(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	contacts, err := h.env.Store.ListContacts(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

type ingestRequest struct {
	Kind        string                 `json:"kind"`
	Registry    []source.RegistryEvent `json:"registry_events"`
	Engagements []source.Engagement    `json:"engagements"`
}

func (h *apiHandler) ingestSignals(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	var sigs []*model.Signal
	switch req.Kind {
	case "registry":
		for _, ev := range req.Registry {
			sig, err := source.AdaptRegistryEvent(ev)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
				return
			}
			sigs = append(sigs, sig)
		}
	case "engagement":
		for _, ev := range req.Engagements {
			sig, err := source.AdaptEngagement(ev)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
				return
			}
			sigs = append(sigs, sig)
		}
	default:
		writeJSON(w, http.StatusBadRequest, errorBody(`kind must be "registry" or "engagement"`))
		return
	}

	created, err := source.IngestSignals(r.Context(), h.env.Store, sigs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "received": len(sigs), "created": created})
}

// decodeBody reads a JSON body into v. An empty body is accepted when
// allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return false
	}
	return true
}

func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func errorBody(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

// writeError maps an error to a status: quota rejections pass through as
// 429/402 with an error_code, missing rows are 404, the rest 500.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody(err.Error())
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	default:
		if qe, ok := resilience.AsQuota(err); ok {
			status = qe.StatusCode
			body["error_code"] = string(qe.Kind)
		}
	}
	if status >= 500 {
		zap.L().Error("api: request failed", zap.Error(err), zap.String("detail", eris.ToString(err, true)))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}
