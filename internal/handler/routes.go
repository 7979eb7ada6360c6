package handler

import (
	"net/http"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/gorilla/mux"
)

// HandlerManager owns the HTTP surface of the service
type HandlerManager struct {
	calls        *CallHandler
	webhook      *LiveKitWebhookHandler // nil when webhooks are disabled
	apiSecretKey string
}

func NewHandlerManager(calls *CallHandler, webhook *LiveKitWebhookHandler, apiSecretKey string) *HandlerManager {
	return &HandlerManager{calls: calls, webhook: webhook, apiSecretKey: apiSecretKey}
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(CORSMiddleware)
	router.Use(GlobalLoggingMiddleware)

	router.HandleFunc("/health", HandleHealth).Methods("GET")

	// intake routes stay at the root
	intake := router.NewRoute().Subrouter()
	intake.Use(ValidationMiddleware)
	intake.Use(APIKeyMiddleware(hm.apiSecretKey))
	hm.calls.SetupCallRoutes(intake)

	if hm.webhook != nil {
		hm.webhook.SetupLiveKitRoutes(router)
	}

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})

	logger.Base().Info("all application routes registered")
}
