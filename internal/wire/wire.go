package wire

import (
	"net/http"

	"carconnect-api/internal/adaptor"
	"carconnect-api/internal/data/repository"
	"carconnect-api/internal/usecase"
	"carconnect-api/pkg/eventbus"
	"carconnect-api/pkg/middleware"
	"carconnect-api/pkg/paystack"
	"carconnect-api/pkg/utils"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// App holds the wired router and the services behind it.
type App struct {
	Router  *chi.Mux
	Service *usecase.Service
}

// Wiring builds services, handlers and routes from the injected collaborators.
func Wiring(repo *repository.Repository, gateway usecase.PaymentGateway, bus eventbus.Bus, config *utils.Config, logger *zap.Logger) *App {
	service := usecase.NewService(repo, gateway, bus, config, logger)
	verifier := paystack.NewVerifier(config.Paystack.WebhookSecret)
	handler := adaptor.NewHandler(service, verifier, bus, config, logger)

	return &App{
		Router:  setupRouter(handler, config, logger),
		Service: service,
	}
}

func setupRouter(handler *adaptor.Handler, config *utils.Config, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger, config.App.IsDevelopment()))
	r.Use(middleware.CORS(config.App.FrontendURL))

	r.NotFound(adaptor.RouteNotFound)
	r.MethodNotAllowed(adaptor.RouteNotFound)

	r.Get("/api/health", handler.Health.Health)
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		metrics.WritePrometheus(w, true)
	})

	wirePayment(r, handler, config, logger)

	return r
}
