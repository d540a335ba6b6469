// Package audit persists an append-only trail of classification verdicts.
//
// The trail exists for inspection and replay only. It is written after a
// verdict is issued and is never consulted while deciding one, so the
// alias scheme stays registry-free: losing or deleting the audit database
// does not change any future classification.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/soteria-mail/soteria/classify"
	"github.com/soteria-mail/soteria/consts"
)

// Entry is one recorded verdict.
type Entry struct {
	RecordedAt         time.Time `json:"recorded_at"`
	Alias              string    `json:"alias"`
	Sender             string    `json:"sender"`
	Disposition        string    `json:"disposition"`
	Folder             string    `json:"folder"`
	AliasResult        string    `json:"alias_result"`
	AliasReason        string    `json:"alias_reason,omitempty"`
	SPF                string    `json:"spf"`
	DKIM               string    `json:"dkim"`
	DMARC              string    `json:"dmarc"`
	TransportSecure    bool      `json:"transport_secure"`
	SenderDomainExists string    `json:"sender_domain_exists"`
}

// NewEntry builds an audit entry from a verdict.
func NewEntry(aliasAddr, sender string, verdict classify.Verdict) Entry {
	return Entry{
		RecordedAt:         time.Now().UTC(),
		Alias:              aliasAddr,
		Sender:             sender,
		Disposition:        verdict.Disposition.String(),
		Folder:             verdict.Folder,
		AliasResult:        verdict.Alias.Kind.String(),
		AliasReason:        verdict.Alias.Reason,
		SPF:                verdict.Signals.SPF.String(),
		DKIM:               verdict.Signals.DKIM.String(),
		DMARC:              verdict.Signals.DMARC.String(),
		TransportSecure:    verdict.Signals.TransportSecure,
		SenderDomainExists: verdict.Signals.SenderDomainExists.String(),
	}
}

// Store is the SQLite-backed audit trail.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the audit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit DB: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		// WAL is an optimization; keep going without it.
		log.Printf("[AUDIT] WARNING: failed to set PRAGMA journal_mode = WAL: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS verdicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at TIMESTAMP NOT NULL,
		alias TEXT NOT NULL,
		sender TEXT NOT NULL,
		disposition TEXT NOT NULL,
		folder TEXT NOT NULL,
		alias_result TEXT NOT NULL,
		alias_reason TEXT NOT NULL DEFAULT '',
		spf TEXT NOT NULL,
		dkim TEXT NOT NULL,
		dmarc TEXT NOT NULL,
		transport_secure INTEGER NOT NULL,
		sender_domain_exists TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_verdicts_recorded_at ON verdicts(recorded_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record appends one verdict to the trail.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verdicts (
			recorded_at, alias, sender, disposition, folder,
			alias_result, alias_reason, spf, dkim, dmarc,
			transport_secure, sender_domain_exists
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RecordedAt, e.Alias, e.Sender, e.Disposition, e.Folder,
		e.AliasResult, e.AliasReason, e.SPF, e.DKIM, e.DMARC,
		e.TransportSecure, e.SenderDomainExists,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrAuditWriteFailed, err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT recorded_at, alias, sender, disposition, folder,
		       alias_result, alias_reason, spf, dkim, dmarc,
		       transport_secure, sender_domain_exists
		FROM verdicts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.RecordedAt, &e.Alias, &e.Sender, &e.Disposition, &e.Folder,
			&e.AliasResult, &e.AliasReason, &e.SPF, &e.DKIM, &e.DMARC,
			&e.TransportSecure, &e.SenderDomainExists,
		); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the audit database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
