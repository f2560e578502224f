// Package memory defines the conversational memory capability: an
// append-only per-client message log plus a mutable per-client profile.
//
// Architecture:
//   - Store: the storage backend interface
//   - store/sqlite: durable implementation over modernc.org/sqlite
//   - store/memstore: in-memory implementation for tests and ephemeral runs
//
// Messages are immutable once written and ordered by timestamp; the
// writer (the advisor service) serializes turns per client so timestamps
// are monotonically non-decreasing. Profiles merge last-write-wins per
// field, with the interaction counter incremented exactly once per update.
package memory

import (
	"context"
	"time"

	"github.com/movne/advisor-backend/core"
)

// ProfileUpdate carries the fields of one profile merge. Nil/empty fields
// are left untouched; set fields overwrite the stored value. The
// interaction counter and last-interaction timestamp are maintained by
// the store itself, not by callers.
type ProfileUpdate struct {
	PreferredLanguage core.Language
	RiskAppetite      string
	Fields            map[string]string
}

// HistoryQuery selects messages from a client's log.
type HistoryQuery struct {
	// Limit caps how many messages are returned. Required.
	Limit int

	// Language, when set, restricts results to one language.
	Language core.Language
}

// Store is the conversation storage backend interface.
type Store interface {
	// AppendMessage records one completed turn, timestamped at call time.
	// Not idempotent: identical arguments create distinct records. The
	// created message is returned.
	AppendMessage(ctx context.Context, clientID, userText, assistantText string, lang core.Language, metadata map[string]string) (core.Message, error)

	// History returns up to q.Limit messages for the client, most recent
	// first. A client with no messages yields an empty slice, not an error.
	History(ctx context.Context, clientID string, q HistoryQuery) ([]core.Message, error)

	// Profile returns the client's profile, or nil (with nil error) when
	// no profile exists.
	Profile(ctx context.Context, clientID string) (*core.ClientProfile, error)

	// UpdateProfile merges the update into the stored profile, creating it
	// if absent. Every call increments the interaction counter by exactly
	// one and sets the last-interaction timestamp to call time, regardless
	// of which fields are supplied.
	UpdateProfile(ctx context.Context, clientID string, update ProfileUpdate) (*core.ClientProfile, error)

	// Close releases resources.
	Close() error
}

// Config holds options shared by Store implementations.
type Config struct {
	// Retention excludes messages older than this window from History
	// results. Zero keeps everything. Physical deletion may lag; excluded
	// messages are simply never returned.
	Retention time.Duration
}
