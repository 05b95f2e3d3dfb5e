package main

import (
	"chat-roulette/repositories"
	"time"

	"github.com/mama165/sdk-go/database"
)

// TranscriptMapper renders one transcript line for the Badger inspector.
func TranscriptMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)

	message, err := repositories.DecodeMessage(val)
	if err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}
	row.Type = "CHAT"
	row.Detail = message.DisplayName + ": " + message.Content
	row.Scores = time.UnixMilli(message.Timestamp).UTC().Format(time.RFC3339Nano)
	return row
}
