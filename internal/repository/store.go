package repository

import (
	"errors"
	"time"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

// ErrDuplicate is returned by Append when the inbound external id was
// already logged for the user.
var ErrDuplicate = errors.New("duplicate message")

// clampAfter keeps the log ordered: an entry never sorts before the last one.
func clampAfter(entry entities.Entry, last time.Time) entities.Entry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if !last.IsZero() && entry.Timestamp.Before(last) {
		entry.Timestamp = last
	}
	return entry
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
