package server

import (
	"database/sql"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db  *sql.DB
	bot BotState
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, bot BotState) *Handlers {
	return &Handlers{db: db, bot: bot}
}
