// Package sqlite is the durable Store implementation over
// modernc.org/sqlite (pure Go, no cgo). One database file holds the
// conversation log, client profiles, and the knowledge-base document
// registry.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/movne/advisor-backend/core"
	"github.com/movne/advisor-backend/memory"
)

// Store is a SQLite-backed memory.Store plus document registry.
type Store struct {
	db  *sql.DB
	cfg memory.Config
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	user_text TEXT NOT NULL,
	assistant_text TEXT NOT NULL,
	language TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_client_ts ON messages(client_id, timestamp);

CREATE TABLE IF NOT EXISTS profiles (
	client_id TEXT PRIMARY KEY,
	preferred_language TEXT NOT NULL DEFAULT '',
	risk_appetite TEXT NOT NULL DEFAULT '',
	fields TEXT NOT NULL DEFAULT '{}',
	interaction_count INTEGER NOT NULL DEFAULT 0,
	last_interaction INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	language TEXT NOT NULL,
	metadata TEXT,
	version INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_title ON documents(title, version);
`

// Open creates or opens the database at path, ensuring the schema exists.
// WAL mode keeps concurrent readers from blocking on the writer.
func Open(path string, cfg memory.Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %v", core.ErrStorage, err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", core.ErrStorage, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", core.ErrStorage, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", core.ErrStorage, err)
	}

	return &Store{db: db, cfg: cfg, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendMessage records one turn timestamped at call time.
func (s *Store) AppendMessage(ctx context.Context, clientID, userText, assistantText string, lang core.Language, metadata map[string]string) (core.Message, error) {
	msg := core.Message{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		UserText:  userText,
		Assistant: assistantText,
		Language:  lang,
		Timestamp: s.now(),
		Metadata:  metadata,
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return core.Message{}, fmt.Errorf("%w: marshal metadata: %v", core.ErrStorage, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, client_id, user_text, assistant_text, language, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ClientID, msg.UserText, msg.Assistant, string(msg.Language),
		msg.Timestamp.UnixNano(), string(metaJSON),
	)
	if err != nil {
		return core.Message{}, fmt.Errorf("%w: insert message: %v", core.ErrStorage, err)
	}
	return msg, nil
}

// History returns up to q.Limit messages, most recent first. Messages
// older than the retention window are excluded by the query itself, so
// deferred physical deletion is never observable.
func (s *Store) History(ctx context.Context, clientID string, q memory.HistoryQuery) ([]core.Message, error) {
	query := `SELECT id, client_id, user_text, assistant_text, language, timestamp, metadata
		FROM messages WHERE client_id = ?`
	args := []any{clientID}

	if s.cfg.Retention > 0 {
		query += ` AND timestamp >= ?`
		args = append(args, s.now().Add(-s.cfg.Retention).UnixNano())
	}
	if q.Language != "" {
		query += ` AND language = ?`
		args = append(args, string(q.Language))
	}
	query += ` ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query history: %v", core.ErrStorage, err)
	}
	defer rows.Close()

	messages := make([]core.Message, 0, q.Limit)
	for rows.Next() {
		var msg core.Message
		var lang, metaJSON string
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.ClientID, &msg.UserText, &msg.Assistant, &lang, &ts, &metaJSON); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", core.ErrStorage, err)
		}
		msg.Language = core.Language(lang)
		msg.Timestamp = time.Unix(0, ts)
		if metaJSON != "" && metaJSON != "null" {
			if err := json.Unmarshal([]byte(metaJSON), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("%w: unmarshal metadata: %v", core.ErrStorage, err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate history: %v", core.ErrStorage, err)
	}
	return messages, nil
}

// Profile returns the stored profile or nil when absent.
func (s *Store) Profile(ctx context.Context, clientID string) (*core.ClientProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT client_id, preferred_language, risk_appetite, fields, interaction_count, last_interaction
		 FROM profiles WHERE client_id = ?`, clientID)

	var p core.ClientProfile
	var lang, fieldsJSON string
	var lastNanos int64
	err := row.Scan(&p.ClientID, &lang, &p.RiskAppetite, &fieldsJSON, &p.InteractionCount, &lastNanos)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query profile: %v", core.ErrStorage, err)
	}

	p.PreferredLanguage = core.Language(lang)
	p.LastInteraction = time.Unix(0, lastNanos)
	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		return nil, fmt.Errorf("%w: unmarshal profile fields: %v", core.ErrStorage, err)
	}
	if p.Fields == nil {
		p.Fields = make(map[string]string)
	}
	return &p, nil
}

// UpdateProfile merges last-write-wins per field inside one transaction,
// so the read-modify-write of the counter never interleaves with another
// update for the same client.
func (s *Store) UpdateProfile(ctx context.Context, clientID string, update memory.ProfileUpdate) (*core.ClientProfile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin profile update: %v", core.ErrStorage, err)
	}
	defer tx.Rollback()

	p := &core.ClientProfile{ClientID: clientID, Fields: make(map[string]string)}

	row := tx.QueryRowContext(ctx,
		`SELECT preferred_language, risk_appetite, fields, interaction_count
		 FROM profiles WHERE client_id = ?`, clientID)
	var lang, fieldsJSON string
	err = row.Scan(&lang, &p.RiskAppetite, &fieldsJSON, &p.InteractionCount)
	switch err {
	case nil:
		p.PreferredLanguage = core.Language(lang)
		if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
			return nil, fmt.Errorf("%w: unmarshal profile fields: %v", core.ErrStorage, err)
		}
		if p.Fields == nil {
			p.Fields = make(map[string]string)
		}
	case sql.ErrNoRows:
		// New profile.
	default:
		return nil, fmt.Errorf("%w: read profile: %v", core.ErrStorage, err)
	}

	if update.PreferredLanguage != "" {
		p.PreferredLanguage = update.PreferredLanguage
	}
	if update.RiskAppetite != "" {
		p.RiskAppetite = update.RiskAppetite
	}
	for k, v := range update.Fields {
		p.Fields[k] = v
	}
	p.InteractionCount++
	p.LastInteraction = s.now()

	mergedFields, err := json.Marshal(p.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal profile fields: %v", core.ErrStorage, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (client_id, preferred_language, risk_appetite, fields, interaction_count, last_interaction)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (client_id) DO UPDATE SET
			preferred_language = excluded.preferred_language,
			risk_appetite = excluded.risk_appetite,
			fields = excluded.fields,
			interaction_count = excluded.interaction_count,
			last_interaction = excluded.last_interaction`,
		clientID, string(p.PreferredLanguage), p.RiskAppetite, string(mergedFields),
		p.InteractionCount, p.LastInteraction.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: write profile: %v", core.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit profile update: %v", core.ErrStorage, err)
	}
	return p, nil
}

// SaveDocument persists a document record. Versioning is the caller's
// concern; the registry just stores what it is given.
func (s *Store) SaveDocument(ctx context.Context, doc core.Document) error {
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal document metadata: %v", core.ErrStorage, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, doc_type, language, metadata, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Content, string(doc.Type), string(doc.Language),
		string(metaJSON), doc.Version, doc.Created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert document: %v", core.ErrStorage, err)
	}
	return nil
}

// LatestVersion returns the highest stored version for a document title,
// or 0 when the title is unknown.
func (s *Store) LatestVersion(ctx context.Context, title string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM documents WHERE title = ?`, title)
	var v int
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("%w: query document version: %v", core.ErrStorage, err)
	}
	return v, nil
}
