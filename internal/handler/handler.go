package handler

import (
	"github.com/jwestbrook/imageflow/internal/config"
	"github.com/jwestbrook/imageflow/internal/database"
	"github.com/jwestbrook/imageflow/internal/queue"
	"github.com/jwestbrook/imageflow/internal/storage"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	DB     database.Database
	Store  storage.Storage
	Queue  queue.Queue
	Config *config.Config
}
