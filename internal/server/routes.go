package server

import (
	"github.com/gorilla/mux"

	"calendar-service/internal/auth"
	"calendar-service/internal/handlers"
	"calendar-service/internal/middleware"
	"calendar-service/internal/ratelimit"
)

// SetupRoutes wires every endpoint onto the router. User-facing routes sit
// behind JWT auth, internal routes behind the shared API key, and the OAuth
// callback is public because the provider redirect carries no bearer token.
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authSvc *auth.Service, limiter *ratelimit.Limiter) {
	router.Use(middleware.RecoveryMiddleware)
	router.Use(middleware.LoggingMiddleware)

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/auth/google/callback", h.Callback).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authSvc.RequireUser)
	api.Use(limiter.HTTPMiddleware(ratelimit.UserBasedKey))
	api.HandleFunc("/auth/google/connect", h.Connect).Methods("GET")
	api.HandleFunc("/auth/google/status", h.Status).Methods("GET")
	api.HandleFunc("/auth/google/disconnect", h.Disconnect).Methods("DELETE")

	api.HandleFunc("/calendar/calendars", h.ListCalendars).Methods("GET")
	api.HandleFunc("/calendar/events", h.ListEvents).Methods("GET")
	api.HandleFunc("/calendar/events", h.CreateEvent).Methods("POST")
	api.HandleFunc("/calendar/events.ics", h.EventsFeed).Methods("GET")
	api.HandleFunc("/calendar/events/{eventID}", h.GetEvent).Methods("GET")
	api.HandleFunc("/calendar/events/{eventID}", h.UpdateEvent).Methods("PATCH", "PUT")
	api.HandleFunc("/calendar/events/{eventID}", h.DeleteEvent).Methods("DELETE")
	api.HandleFunc("/calendar/availability", h.GetAvailability).Methods("GET")
	api.HandleFunc("/calendar/availability.ics", h.AvailabilityFeed).Methods("GET")
	api.HandleFunc("/calendar/sync-logs", h.SyncLogs).Methods("GET")

	internal := router.PathPrefix("/internal/calendar").Subrouter()
	internal.Use(authSvc.RequireInternalKey)
	internal.Use(limiter.HTTPMiddleware(ratelimit.AgentBasedKey))
	internal.HandleFunc("/events", h.InternalCreateEvent).Methods("POST")
	internal.HandleFunc("/events/{eventID}", h.InternalUpdateEvent).Methods("PUT", "PATCH")
	internal.HandleFunc("/events/{eventID}", h.InternalDeleteEvent).Methods("DELETE")
	internal.HandleFunc("/availability/{userID}", h.InternalAvailability).Methods("GET")
	internal.HandleFunc("/connection/{userID}", h.InternalConnectionStatus).Methods("GET")
}
