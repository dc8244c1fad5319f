package handlers

import (
	"calendar-service/internal/calendar"
	"calendar-service/internal/common/logging"
	"calendar-service/internal/config"
	"calendar-service/internal/storage"
	"calendar-service/internal/tokens"
)

type Handlers struct {
	tokens   *tokens.Manager
	calendar *calendar.Service
	storage  storage.Storage
	config   *config.Config
	logger   logging.Logger
}

func New(tokenManager *tokens.Manager, calendarService *calendar.Service, store storage.Storage, cfg *config.Config, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		tokens:   tokenManager,
		calendar: calendarService,
		storage:  store,
		config:   cfg,
		logger:   logger,
	}
}
