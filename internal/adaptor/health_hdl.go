package adaptor

import (
	"net/http"
	"time"

	"carconnect-api/internal/dto/response"
	"carconnect-api/pkg/utils"
)

type HealthHandler struct {
	service string
}

func NewHealthHandler(service string) *HealthHandler {
	return &HealthHandler{service: service}
}

// Health handles GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	utils.ResponseJSON(w, http.StatusOK, response.HealthResponse{
		Status:    "OK",
		Timestamp: time.Now().UTC(),
		Service:   h.service,
	})
}

type routeNotFound struct {
	Error string `json:"error"`
	Path  string `json:"path"`
}

// RouteNotFound answers every unmatched path and method.
func RouteNotFound(w http.ResponseWriter, r *http.Request) {
	utils.ResponseJSON(w, http.StatusNotFound, routeNotFound{Error: "Route not found", Path: r.URL.Path})
}
