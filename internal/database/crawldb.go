package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/politecrawl/internal/model"
)

// FileName is the database file created inside the database directory.
const FileName = "politecrawl.db"

// CrawlDB provides SQLite-based storage for crawl sessions, pages, links,
// media references and robots.txt bodies.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}
	// Several processes may open the same file at once.
	dsn += "&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
// Timestamps are stored as RFC 3339 text.
func (cdb *CrawlDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		pages_scanned INTEGER DEFAULT 0,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);

	-- Pages are keyed by URL; a re-crawl updates the row in place.
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		parent_url TEXT,
		depth INTEGER,
		status_code INTEGER,
		content_type TEXT,
		content_length INTEGER,
		title TEXT,
		description TEXT,
		last_modified TEXT,
		is_dynamic INTEGER DEFAULT 0,
		content TEXT,
		content_hash TEXT,
		analysis_json TEXT,
		crawled_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pages_session ON pages(session_id);
	CREATE INDEX IF NOT EXISTS idx_pages_hash ON pages(content_hash);

	CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id INTEGER NOT NULL REFERENCES pages(id),
		target_url TEXT NOT NULL,
		anchor_text TEXT,
		rel TEXT,
		internal INTEGER DEFAULT 0,
		UNIQUE(page_id, target_url)
	);

	CREATE TABLE IF NOT EXISTS media (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id INTEGER NOT NULL REFERENCES pages(id),
		url TEXT NOT NULL,
		type TEXT NOT NULL,
		alt TEXT,
		UNIQUE(page_id, url)
	);

	CREATE TABLE IF NOT EXISTS robots (
		domain TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		fetched_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS domains (
		domain TEXT PRIMARY KEY,
		allowed INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// UpsertPage inserts or updates the page keyed by its URL and returns the row ID.
func (cdb *CrawlDB) UpsertPage(ctx context.Context, page *model.PageRecord) (int64, error) {
	analysisJSON, err := json.Marshal(page.Analysis)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize analysis: %w", err)
	}

	query := `
	INSERT INTO pages (session_id, url, parent_url, depth, status_code, content_type, content_length,
		title, description, last_modified, is_dynamic, content, content_hash, analysis_json, crawled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		session_id = excluded.session_id,
		parent_url = excluded.parent_url,
		depth = excluded.depth,
		status_code = excluded.status_code,
		content_type = excluded.content_type,
		content_length = excluded.content_length,
		title = excluded.title,
		description = excluded.description,
		last_modified = excluded.last_modified,
		is_dynamic = excluded.is_dynamic,
		content = excluded.content,
		content_hash = excluded.content_hash,
		analysis_json = excluded.analysis_json,
		crawled_at = excluded.crawled_at
	RETURNING id
	`

	var id int64
	err = cdb.db.QueryRowContext(ctx, query,
		page.SessionID,
		page.URL,
		page.ParentURL,
		page.Depth,
		page.StatusCode,
		page.ContentType,
		page.ContentLength,
		page.Title,
		page.Description,
		page.LastModified,
		boolToInt(page.IsDynamic),
		page.Content,
		page.ContentHash,
		string(analysisJSON),
		formatTimestamp(page.CrawledAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert page: %w", err)
	}

	return id, nil
}

// GetPage retrieves a page by URL. It returns nil when the page is unknown.
func (cdb *CrawlDB) GetPage(ctx context.Context, url string) (*model.PageRecord, error) {
	rows, err := cdb.db.QueryContext(ctx, pageQuery+" WHERE url = ?", url)
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	defer rows.Close()

	pages, err := scanPages(rows)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return pages[0], nil
}

// ListPages returns the pages last written by a session, oldest first.
func (cdb *CrawlDB) ListPages(ctx context.Context, sessionID string) ([]*model.PageRecord, error) {
	rows, err := cdb.db.QueryContext(ctx, pageQuery+" WHERE session_id = ? ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	return scanPages(rows)
}

const pageQuery = `
	SELECT id, session_id, url, parent_url, depth, status_code, content_type, content_length,
		title, description, last_modified, is_dynamic, content, content_hash, analysis_json, crawled_at
	FROM pages`

func scanPages(rows *sql.Rows) ([]*model.PageRecord, error) {
	var pages []*model.PageRecord
	for rows.Next() {
		var (
			p            model.PageRecord
			isDynamic    int
			analysisJSON sql.NullString
			crawledAt    string
		)
		err := rows.Scan(
			&p.ID,
			&p.SessionID,
			&p.URL,
			&p.ParentURL,
			&p.Depth,
			&p.StatusCode,
			&p.ContentType,
			&p.ContentLength,
			&p.Title,
			&p.Description,
			&p.LastModified,
			&isDynamic,
			&p.Content,
			&p.ContentHash,
			&analysisJSON,
			&crawledAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}

		p.IsDynamic = isDynamic != 0
		p.CrawledAt = parseTimestamp(crawledAt)
		if analysisJSON.Valid && analysisJSON.String != "" {
			if err := json.Unmarshal([]byte(analysisJSON.String), &p.Analysis); err != nil {
				return nil, fmt.Errorf("failed to parse analysis: %w", err)
			}
		}
		pages = append(pages, &p)
	}

	return pages, rows.Err()
}

// InsertLinksIfAbsent stores the outbound links of a page. Links already
// stored for the page are left alone. It returns the number inserted.
func (cdb *CrawlDB) InsertLinksIfAbsent(ctx context.Context, pageID int64, links []model.Link) (int, error) {
	query := `
	INSERT INTO links (page_id, target_url, anchor_text, rel, internal)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(page_id, target_url) DO NOTHING
	`

	return cdb.insertEach(ctx, query, len(links), func(i int) []any {
		l := links[i]
		return []any{pageID, l.URL, l.Text, l.Rel, boolToInt(l.Internal)}
	})
}

// InsertMediaIfAbsent stores the media references of a page. References
// already stored for the page are left alone. It returns the number inserted.
func (cdb *CrawlDB) InsertMediaIfAbsent(ctx context.Context, pageID int64, media []model.Media) (int, error) {
	query := `
	INSERT INTO media (page_id, url, type, alt)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(page_id, url) DO NOTHING
	`

	return cdb.insertEach(ctx, query, len(media), func(i int) []any {
		m := media[i]
		return []any{pageID, m.URL, string(m.Type), m.Alt}
	})
}

// insertEach runs query once per row in a single transaction.
func (cdb *CrawlDB) insertEach(ctx context.Context, query string, n int, args func(i int) []any) (int, error) {
	if n == 0 {
		return 0, nil
	}

	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range n {
		res, err := stmt.ExecContext(ctx, args(i)...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert row: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil {
			inserted += int(affected)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return inserted, nil
}

// CountLinks returns the number of links stored for a page.
func (cdb *CrawlDB) CountLinks(ctx context.Context, pageID int64) (int, error) {
	var n int
	err := cdb.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM links WHERE page_id = ?", pageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}
	return n, nil
}

// CountMedia returns the number of media references stored for a page.
func (cdb *CrawlDB) CountMedia(ctx context.Context, pageID int64) (int, error) {
	var n int
	err := cdb.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM media WHERE page_id = ?", pageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count media: %w", err)
	}
	return n, nil
}

// GetRobotsRecord returns the stored robots.txt body of a domain.
func (cdb *CrawlDB) GetRobotsRecord(ctx context.Context, domain string) (string, bool, error) {
	var body string
	err := cdb.db.QueryRowContext(ctx, "SELECT body FROM robots WHERE domain = ?", domain).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get robots record: %w", err)
	}
	return body, true, nil
}

// PutRobotsRecord stores the robots.txt body of a domain.
func (cdb *CrawlDB) PutRobotsRecord(ctx context.Context, domain, body string) error {
	query := `
	INSERT INTO robots (domain, body, fetched_at)
	VALUES (?, ?, ?)
	ON CONFLICT(domain) DO UPDATE SET
		body = excluded.body,
		fetched_at = excluded.fetched_at
	`

	if _, err := cdb.db.ExecContext(ctx, query, domain, body, formatTimestamp(time.Now())); err != nil {
		return fmt.Errorf("failed to put robots record: %w", err)
	}
	return nil
}

// SetDomainAllowed records whether robots.txt lets the crawler into a domain.
func (cdb *CrawlDB) SetDomainAllowed(ctx context.Context, domain string, allowed bool) error {
	query := `
	INSERT INTO domains (domain, allowed, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(domain) DO UPDATE SET
		allowed = excluded.allowed,
		updated_at = excluded.updated_at
	`

	if _, err := cdb.db.ExecContext(ctx, query, domain, boolToInt(allowed), formatTimestamp(time.Now())); err != nil {
		return fmt.Errorf("failed to set domain policy: %w", err)
	}
	return nil
}

// DomainAllowed returns the recorded policy of a domain.
func (cdb *CrawlDB) DomainAllowed(ctx context.Context, domain string) (allowed, found bool, err error) {
	var v int
	err = cdb.db.QueryRowContext(ctx, "SELECT allowed FROM domains WHERE domain = ?", domain).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to get domain policy: %w", err)
	}
	return v != 0, true, nil
}

// SaveSession stores the final report of a session. Saving the same
// session again replaces the stored report.
func (cdb *CrawlDB) SaveSession(ctx context.Context, report *model.SessionReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	query := `
	INSERT INTO sessions (id, target, started_at, finished_at, status, pages_scanned, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		finished_at = excluded.finished_at,
		status = excluded.status,
		pages_scanned = excluded.pages_scanned,
		report_json = excluded.report_json
	`

	_, err = cdb.db.ExecContext(ctx, query,
		report.SessionID,
		report.Target,
		formatTimestamp(report.StartedAt),
		formatTimestamp(report.FinishedAt),
		report.Status(),
		report.Stats.PagesScanned,
		string(reportJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// GetSession retrieves a session report by ID. It returns nil when the
// session is unknown.
func (cdb *CrawlDB) GetSession(ctx context.Context, id string) (*model.SessionReport, error) {
	var reportJSON string
	err := cdb.db.QueryRowContext(ctx, "SELECT report_json FROM sessions WHERE id = ?", id).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var report model.SessionReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}

	return &report, nil
}

// SessionMetadata contains summary information about a stored session.
// This is used for listing sessions without loading the full report.
type SessionMetadata struct {
	ID           string
	Target       string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string
	PagesScanned int64
}

// ListSessions returns stored sessions, newest first. A non-positive
// limit returns every session.
func (cdb *CrawlDB) ListSessions(ctx context.Context, limit int) ([]SessionMetadata, error) {
	query := `
	SELECT id, target, started_at, finished_at, status, pages_scanned
	FROM sessions
	ORDER BY started_at DESC
	`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var results []SessionMetadata
	for rows.Next() {
		var meta SessionMetadata
		var startedAt string
		var finishedAt sql.NullString

		if err := rows.Scan(&meta.ID, &meta.Target, &startedAt, &finishedAt, &meta.Status, &meta.PagesScanned); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		meta.StartedAt = parseTimestamp(startedAt)
		if finishedAt.Valid {
			meta.FinishedAt = parseTimestamp(finishedAt.String)
		}
		results = append(results, meta)
	}

	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// timestampFormats contains the timestamp formats parseTimestamp accepts.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
