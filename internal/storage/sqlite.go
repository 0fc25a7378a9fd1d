package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"pulsewire/internal/domain"
	"pulsewire/internal/transport"
	logx "pulsewire/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string, log logx.Logger) (Store, error) {
	return openSQLite(Config{Driver: "sqlite", Path: path}, log)
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite prefers a single writer. It also keeps ":memory:" databases on one
	// connection for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return st, nil
}

// migrate applies embedded migrations in file-name order, at most once each.
func (s *sqliteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var n int
		if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		b, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upSection(string(b))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(name, applied_at) VALUES(?, ?)`, name, time.Now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Debug("migration applied", logx.String("name", name))
	}
	return nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, up); i >= 0 {
		content = content[i+len(up):]
	}
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return content
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- employees ----

func (s *sqliteStore) PutEmployee(ctx context.Context, e domain.Employee) error {
	if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.OrganizationID) == "" {
		return errors.New("employee id and organization id are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, organization_id, name, department, phone, phone_normalized, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			name = excluded.name,
			department = excluded.department,
			phone = excluded.phone,
			phone_normalized = excluded.phone_normalized,
			active = excluded.active`,
		e.ID, e.OrganizationID, e.Name, e.Department, e.Phone, transport.NormalizePhone(e.Phone), boolInt(e.Active),
	)
	if err != nil {
		return fmt.Errorf("upserting employee %s: %w", e.ID, err)
	}
	return nil
}

const employeeColumns = `id, organization_id, name, department, phone, active`

func (s *sqliteStore) ListActiveEmployees(ctx context.Context, orgID string) ([]domain.Employee, error) {
	var rows []employeeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+employeeColumns+` FROM employees WHERE organization_id = ? AND active = 1 ORDER BY name, id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing employees of %s: %w", orgID, err)
	}
	out := make([]domain.Employee, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *sqliteStore) FindEmployeesByPhone(ctx context.Context, phone string) ([]domain.Employee, error) {
	norm := transport.NormalizePhone(phone)
	if norm == "" {
		return nil, nil
	}
	var rows []employeeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+employeeColumns+` FROM employees WHERE phone_normalized = ? AND active = 1 ORDER BY id`, norm)
	if err != nil {
		return nil, fmt.Errorf("finding employees by phone: %w", err)
	}
	out := make([]domain.Employee, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ---- broadcasts ----

func (s *sqliteStore) PutBroadcast(ctx context.Context, b domain.Broadcast) error {
	if strings.TrimSpace(b.ID) == "" || strings.TrimSpace(b.OrganizationID) == "" {
		return errors.New("broadcast id and organization id are required")
	}
	kind, content, err := encodeContent(b.Content)
	if err != nil {
		return err
	}
	targeting, err := json.Marshal(b.Targeting)
	if err != nil {
		return fmt.Errorf("encode targeting: %w", err)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO broadcasts (id, organization_id, kind, targeting, content, active,
			send_via_channel, sent_via_channel, sent_at, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			targeting = excluded.targeting,
			content = excluded.content,
			active = excluded.active,
			send_via_channel = excluded.send_via_channel,
			sent_via_channel = excluded.sent_via_channel,
			sent_at = excluded.sent_at,
			expires_at = excluded.expires_at`,
		b.ID, b.OrganizationID, string(kind), string(targeting), content, boolInt(b.Active),
		boolInt(b.SendViaChannel), boolInt(b.SentViaChannel), nullMS(b.SentAt), nullMS(b.ExpiresAt), toMS(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting broadcast %s: %w", b.ID, err)
	}
	return nil
}

const broadcastColumns = `id, organization_id, kind, targeting, content, active, send_via_channel,
	sent_via_channel, sent_at, expires_at, created_at`

func (s *sqliteStore) GetBroadcast(ctx context.Context, orgID, id string) (domain.Broadcast, error) {
	var r broadcastRow
	err := s.db.GetContext(ctx, &r, `SELECT `+broadcastColumns+` FROM broadcasts WHERE id = ? AND organization_id = ?`, id, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Broadcast{}, fmt.Errorf("broadcast %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Broadcast{}, fmt.Errorf("getting broadcast %s: %w", id, err)
	}
	return r.toDomain()
}

func (s *sqliteStore) GetBroadcastByID(ctx context.Context, id string) (domain.Broadcast, error) {
	var r broadcastRow
	err := s.db.GetContext(ctx, &r, `SELECT `+broadcastColumns+` FROM broadcasts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Broadcast{}, fmt.Errorf("broadcast %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Broadcast{}, fmt.Errorf("getting broadcast %s: %w", id, err)
	}
	return r.toDomain()
}

func (s *sqliteStore) SetBroadcastActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE broadcasts SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("updating broadcast %s: %w", id, err)
	}
	return requireRow(res, "broadcast "+id)
}

func (s *sqliteStore) MarkBroadcastSent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE broadcasts SET sent_via_channel = 1, sent_at = ? WHERE id = ?`, toMS(at), id)
	if err != nil {
		return fmt.Errorf("marking broadcast %s sent: %w", id, err)
	}
	return requireRow(res, "broadcast "+id)
}

func (s *sqliteStore) ExpireBroadcasts(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET active = 0 WHERE active = 1 AND expires_at IS NOT NULL AND expires_at <= ?`, toMS(now))
	if err != nil {
		return 0, fmt.Errorf("expiring broadcasts: %w", err)
	}
	return res.RowsAffected()
}

// ---- message contexts ----

func (s *sqliteStore) CreateMessageContext(ctx context.Context, mc domain.MessageContext) error {
	if mc.ID == "" || mc.EmployeeID == "" || mc.ReferenceID == "" {
		return errors.New("message context id, employee id and reference id are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_contexts (id, organization_id, employee_id, message_type, reference_id,
			provider_message_id, sent_at, expires_at, is_responded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mc.ID, mc.OrganizationID, mc.EmployeeID, string(mc.Type), mc.ReferenceID,
		mc.ProviderMessageID, toMS(mc.SentAt), toMS(mc.ExpiresAt), boolInt(mc.Responded),
	)
	if err != nil {
		return fmt.Errorf("creating message context for %s: %w", mc.EmployeeID, err)
	}
	return nil
}

const contextColumns = `id, organization_id, employee_id, message_type, reference_id,
	provider_message_id, sent_at, expires_at, is_responded`

func (s *sqliteStore) ActiveMessageContext(ctx context.Context, employeeIDs []string, now time.Time) (domain.MessageContext, error) {
	if len(employeeIDs) == 0 {
		return domain.MessageContext{}, ErrNotFound
	}
	// Later sent_at wins; equal sent_at falls back to insertion order.
	q, args, err := sqlx.In(`SELECT `+contextColumns+` FROM message_contexts
		WHERE employee_id IN (?) AND is_responded = 0 AND expires_at > ?
		ORDER BY sent_at DESC, rowid DESC
		LIMIT 1`, employeeIDs, toMS(now))
	if err != nil {
		return domain.MessageContext{}, err
	}
	var r contextRow
	err = s.db.GetContext(ctx, &r, s.db.Rebind(q), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MessageContext{}, ErrNotFound
	}
	if err != nil {
		return domain.MessageContext{}, fmt.Errorf("finding active message context: %w", err)
	}
	return r.toDomain(), nil
}

func (s *sqliteStore) ListMessageContexts(ctx context.Context, referenceID string) ([]domain.MessageContext, error) {
	var rows []contextRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+contextColumns+` FROM message_contexts WHERE reference_id = ? ORDER BY sent_at, rowid`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("listing message contexts of %s: %w", referenceID, err)
	}
	out := make([]domain.MessageContext, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *sqliteStore) CompleteMessageContext(ctx context.Context, contextID string, r domain.Response) error {
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE message_contexts SET is_responded = 1 WHERE id = ? AND is_responded = 0 AND expires_at > ?`,
		contextID, toMS(r.SubmittedAt))
	if err != nil {
		return fmt.Errorf("claiming message context %s: %w", contextID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("message context %s: %w", contextID, ErrAlreadyResponded)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO responses (id, organization_id, broadcast_id, employee_id, context_id, kind,
			option_index, choice, rating, mood, text, is_read, provider_message_id, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrganizationID, r.BroadcastID, r.EmployeeID, contextID, string(r.Kind),
		nullInt(r.OptionIndex), r.Choice, nullInt(r.Rating), nullInt(r.Mood), r.Text, boolInt(r.Read),
		r.ProviderMessageID, toMS(r.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting response for context %s: %w", contextID, err)
	}
	return tx.Commit()
}

func (s *sqliteStore) ListResponses(ctx context.Context, broadcastID string) ([]domain.Response, error) {
	var rows []responseRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, organization_id, broadcast_id, employee_id, context_id, kind, option_index, choice,
			rating, mood, text, is_read, provider_message_id, submitted_at
		FROM responses WHERE broadcast_id = ? ORDER BY submitted_at, id`, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("listing responses of %s: %w", broadcastID, err)
	}
	out := make([]domain.Response, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ---- audit ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, component, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Component, e.Action, e.Target, e.OK, e.Fail,
		nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
