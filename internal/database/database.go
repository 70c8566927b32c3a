package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bonus-planner-api/internal/models"
	"bonus-planner-api/internal/validation"
)

// ErrOfferNotFound is returned when no offer has the requested id.
var ErrOfferNotFound = errors.New("offer not found")

// manualURLPrefix marks offers created from pasted content.
const manualURLPrefix = "manual-content-"

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
	path string
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between request handlers and the
	// background extraction sweep.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: dbPath}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS offers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL,
			url_key TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			processing_step TEXT NOT NULL DEFAULT '',
			opened INTEGER NOT NULL DEFAULT 0,
			deposited INTEGER NOT NULL DEFAULT 0,
			received INTEGER NOT NULL DEFAULT 0,
			details TEXT NOT NULL DEFAULT '{}',
			original_content TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_status ON offers(status)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_url_key ON offers(url_key)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

const offerColumns = `id, url, status, processing_step, opened, deposited, received,
	details, original_content, created_at, updated_at`

// CreateOffer inserts an offer and returns it with its assigned id. Offers
// without a URL get the manual-content-<id> placeholder.
func (db *DB) CreateOffer(ctx context.Context, offer models.Offer) (models.Offer, error) {
	now := time.Now().UTC()
	offer.CreatedAt = now
	offer.UpdatedAt = now
	if offer.Details == nil {
		offer.Details = models.Details{}
	}

	detailsJSON, err := serializeDetails(offer.Details)
	if err != nil {
		return models.Offer{}, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO offers (
		url, url_key, status, processing_step, opened, deposited, received,
		details, original_content, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		offer.URL,
		urlKey(offer.URL),
		offer.Status,
		offer.ProcessingStep,
		offer.UserControlled.Opened,
		offer.UserControlled.Deposited,
		offer.UserControlled.Received,
		detailsJSON,
		offer.OriginalContent,
		formatTime(offer.CreatedAt),
		formatTime(offer.UpdatedAt),
	)
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to insert offer: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to read offer id: %w", err)
	}
	offer.ID = int(id)

	if offer.URL == "" {
		offer.URL = fmt.Sprintf("%s%d", manualURLPrefix, offer.ID)
		if _, err := tx.ExecContext(ctx, `UPDATE offers SET url = ? WHERE id = ?`, offer.URL, offer.ID); err != nil {
			return models.Offer{}, fmt.Errorf("failed to set placeholder url: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Offer{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return offer, nil
}

// UpdateOffer replaces every mutable column of an existing offer.
func (db *DB) UpdateOffer(ctx context.Context, offer models.Offer) (models.Offer, error) {
	offer.UpdatedAt = time.Now().UTC()

	detailsJSON, err := serializeDetails(offer.Details)
	if err != nil {
		return models.Offer{}, err
	}

	res, err := db.conn.ExecContext(ctx, `UPDATE offers SET
		url = ?, url_key = ?, status = ?, processing_step = ?,
		opened = ?, deposited = ?, received = ?,
		details = ?, original_content = ?, updated_at = ?
		WHERE id = ?`,
		offer.URL,
		urlKey(offer.URL),
		offer.Status,
		offer.ProcessingStep,
		offer.UserControlled.Opened,
		offer.UserControlled.Deposited,
		offer.UserControlled.Received,
		detailsJSON,
		offer.OriginalContent,
		formatTime(offer.UpdatedAt),
		offer.ID,
	)
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to update offer %d: %w", offer.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Offer{}, ErrOfferNotFound
	}

	return db.GetOffer(ctx, offer.ID)
}

// DeleteOffer removes an offer.
func (db *DB) DeleteOffer(ctx context.Context, id int) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM offers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete offer %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOfferNotFound
	}
	return nil
}

// GetOffer returns one offer.
func (db *DB) GetOffer(ctx context.Context, id int) (models.Offer, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = ?`, id)
	offer, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Offer{}, ErrOfferNotFound
	}
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to get offer %d: %w", id, err)
	}
	return offer, nil
}

// ListOffers returns all offers ordered by id.
func (db *DB) ListOffers(ctx context.Context) ([]models.Offer, error) {
	return db.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers ORDER BY id`)
}

// ListByStatus returns the offers in one extraction state, ordered by id.
func (db *DB) ListByStatus(ctx context.Context, status models.OfferStatus) ([]models.Offer, error) {
	return db.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers WHERE status = ? ORDER BY id`, status)
}

// FindByURL returns the offer tracking the same page as rawURL, comparing
// normalized URLs. Manual offers never match.
func (db *DB) FindByURL(ctx context.Context, rawURL string) (models.Offer, error) {
	key := urlKey(rawURL)
	if key == "" {
		return models.Offer{}, ErrOfferNotFound
	}
	offers, err := db.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers WHERE url_key = ? ORDER BY id LIMIT 1`, key)
	if err != nil {
		return models.Offer{}, err
	}
	if len(offers) == 0 {
		return models.Offer{}, ErrOfferNotFound
	}
	return offers[0], nil
}

// Snapshot returns an independent copy of every offer keyed by id.
func (db *DB) Snapshot(ctx context.Context) (map[int]models.Offer, error) {
	offers, err := db.ListOffers(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]models.Offer, len(offers))
	for _, o := range offers {
		out[o.ID] = o
	}
	return out, nil
}

// Stats summarises the store.
func (db *DB) Stats(ctx context.Context) (models.StorageStats, error) {
	var stats models.StorageStats

	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM offers GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("failed to count offers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status models.OfferStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan offer count: %w", err)
		}
		stats.TotalOffers += count
		switch status {
		case models.StatusCompleted:
			stats.CompletedOffers = count
		case models.StatusFailed:
			stats.FailedOffers = count
		case models.StatusProcessing:
			stats.ProcessingOffers = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating offer counts: %w", err)
	}

	var seq sql.NullInt64
	err = db.conn.QueryRowContext(ctx, `SELECT seq FROM sqlite_sequence WHERE name = 'offers'`).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return stats, fmt.Errorf("failed to read id sequence: %w", err)
	}
	stats.NextOfferID = int(seq.Int64) + 1

	if info, err := os.Stat(db.path); err == nil {
		stats.StorageFileSize = info.Size()
	}

	return stats, nil
}

// Backup writes a consistent copy of the database into dir and returns its path.
func (db *DB) Backup(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("offers_backup_%s.db", time.Now().UTC().Format("20060102_150405.000000"))
	path := filepath.Join(dir, name)

	if _, err := db.conn.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", fmt.Errorf("failed to back up database: %w", err)
	}
	return path, nil
}

func (db *DB) queryOffers(ctx context.Context, query string, args ...interface{}) ([]models.Offer, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	offers := []models.Offer{}
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, offer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating offers: %w", err)
	}

	return offers, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(row scanner) (models.Offer, error) {
	var offer models.Offer
	var detailsJSON, createdAt, updatedAt string

	err := row.Scan(
		&offer.ID,
		&offer.URL,
		&offer.Status,
		&offer.ProcessingStep,
		&offer.UserControlled.Opened,
		&offer.UserControlled.Deposited,
		&offer.UserControlled.Received,
		&detailsJSON,
		&offer.OriginalContent,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return models.Offer{}, err
	}

	offer.Details = deserializeDetails(detailsJSON)

	offer.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	offer.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return offer, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// urlKey is the duplicate-detection key of a URL; placeholders have none.
func urlKey(rawURL string) string {
	if rawURL == "" || strings.HasPrefix(rawURL, manualURLPrefix) {
		return ""
	}
	return validation.NormalizeURL(rawURL)
}

// serializeDetails converts offer details to a JSON string.
func serializeDetails(d models.Details) (string, error) {
	if len(d) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to serialize details: %w", err)
	}
	return string(data), nil
}

// deserializeDetails converts serialized details back to a map. Unreadable
// rows yield empty details rather than failing the whole listing.
func deserializeDetails(serialized string) models.Details {
	d := models.Details{}
	if serialized == "" || serialized == "{}" {
		return d
	}
	if err := json.Unmarshal([]byte(serialized), &d); err != nil {
		return models.Details{}
	}
	return d
}
