// Package api provides HTTP handlers for the proxy API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stealth-proxy-go/pkg/appctx"
	"stealth-proxy-go/pkg/logging"
	"stealth-proxy-go/pkg/middleware"
	"stealth-proxy-go/pkg/types"
)

const maxCatalogBody = 1 << 20

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes. GET patterns also serve HEAD;
// OPTIONS preflight is answered by the CORS middleware.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	endpoint := h.ctx.Config.ProxyEndpoint

	// Proxy routes
	mux.HandleFunc("GET "+endpoint, h.handleProxy)
	mux.HandleFunc("POST "+endpoint, h.handleProxy)

	// Public routes
	mux.HandleFunc("GET /api/info", h.handleAPIInfo)
	mux.HandleFunc("GET /api/auth", h.handleAuth)
	mux.HandleFunc("GET /healthz", h.handleHealth)

	if h.ctx.Catalog != nil {
		requirePassword := middleware.RequirePassword(h.ctx.Config.AppPassword, h.log)
		mux.Handle("POST /api/catalog", requirePassword(http.HandlerFunc(h.handleCatalogUpsert)))
	}

	if h.ctx.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.ctx.Metrics.Registry, promhttp.HandlerOpts{}))
	}
}

// handleProxy serves the proxy endpoint in every mode.
func (h *Handlers) handleProxy(w http.ResponseWriter, r *http.Request) {
	req, err := h.ctx.ProxyService.ParseRequest(r)
	if err != nil {
		h.writeProxyError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).WithMode(string(req.Mode)).Debug("dispatching proxy request", "target", req.TargetURL)

	if req.Mode != types.ModePlain {
		result, err := h.ctx.ProxyService.Extract(r.Context(), req)
		if err != nil {
			h.writeProxyError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, result)
		return
	}

	resp, err := h.ctx.ProxyService.Proxy(r.Context(), req)
	if err != nil {
		h.writeProxyError(w, r, err)
		return
	}
	h.writeProxyResponse(w, r, resp)
}

// handleAPIInfo returns service information.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	sites := []string{}
	if h.ctx.Extractor != nil {
		sites = h.ctx.Extractor.Sites()
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "running",
		"endpoint": h.ctx.Config.ProxyEndpoint,
		"sites":    sites,
		"catalog":  h.ctx.Catalog != nil,
	})
}

// handleAuth reports whether the request carries the shared password.
func (h *Handlers) handleAuth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]bool{
		"ok": middleware.CheckPassword(r, h.ctx.Config.AppPassword),
	})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCatalogUpsert inserts or updates one catalog record.
func (h *Handlers) handleCatalogUpsert(w http.ResponseWriter, r *http.Request) {
	var rec types.CatalogRecord
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCatalogBody)).Decode(&rec); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := rec.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ctx.Catalog.Upsert(r.Context(), &rec); err != nil {
		logging.FromContext(r.Context()).Error("catalog upsert failed", "id", rec.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "catalog write failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      rec.ID,
	})
}

// writeProxyResponse relays a proxied response and closes its body.
func (h *Handlers) writeProxyResponse(w http.ResponseWriter, r *http.Request, resp *types.ProxyResponse) {
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if resp.Body == nil || r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		logging.FromContext(r.Context()).Debug("response copy interrupted", "error", err)
	}
}

// writeProxyError maps proxy and extraction errors to their HTTP responses.
// Extraction failures answer in JSON, fetch failures in plain text.
func (h *Handlers) writeProxyError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context())

	switch {
	case errors.Is(err, types.ErrMissingTitle):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrInvalidTarget):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, types.ErrBodyTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, types.ErrExtractionNotFound):
		h.writeError(w, http.StatusNotFound, "Video URL not found")
	case errors.Is(err, types.ErrExtractionUpstream), errors.Is(err, types.ErrUnknownSite):
		log.Error("extraction failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, types.ErrUpstreamTimeout):
		http.Error(w, "Proxy Error: "+err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, types.ErrUpstreamUnreachable):
		http.Error(w, "Proxy Error: "+err.Error(), http.StatusBadGateway)
	default:
		log.Error("proxy request failed", "error", err)
		http.Error(w, "Proxy Error: "+err.Error(), http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
