package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"rentcomps/models"
	"rentcomps/utils"
)

// ErrRunNotFound is returned by FetchRun for an unknown search id.
var ErrRunNotFound = errors.New("postgres: comp search not found")

// PostgresWriter archives ranked comp searches in PostgreSQL.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, retrying the ping
// with exponential back-off, runs schema migrations, and returns a
// ready-to-use PostgresWriter.
func NewPostgresWriter(dsn string, retry utils.RetryConfig) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if err := retry.Do("postgres ping", db.Ping); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate() error {
	_, err := pw.db.Exec(`
		CREATE TABLE IF NOT EXISTS comp_searches (
			id          UUID         PRIMARY KEY,
			searched_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			query       TEXT         NOT NULL DEFAULT '',
			fetched     INTEGER      NOT NULL DEFAULT 0,
			subject     JSONB        NOT NULL,
			criteria    JSONB        NOT NULL,
			summary     JSONB        NOT NULL
		);

		CREATE TABLE IF NOT EXISTS comps (
			search_id      UUID          NOT NULL REFERENCES comp_searches(id) ON DELETE CASCADE,
			rank           INTEGER       NOT NULL,
			listing_id     TEXT          NOT NULL,
			address        TEXT          NOT NULL DEFAULT '',
			city           TEXT          NOT NULL DEFAULT '',
			state          VARCHAR(8)    NOT NULL DEFAULT '',
			zip            VARCHAR(16)   NOT NULL DEFAULT '',
			bedrooms       INTEGER       NOT NULL DEFAULT 0,
			bathrooms      INTEGER       NOT NULL DEFAULT 0,
			sqft           INTEGER       NOT NULL DEFAULT 0,
			property_type  VARCHAR(32)   NOT NULL DEFAULT '',
			rent           NUMERIC(10,2) NOT NULL,
			status         VARCHAR(16)   NOT NULL,
			lat            DOUBLE PRECISION NOT NULL DEFAULT 0,
			lng            DOUBLE PRECISION NOT NULL DEFAULT 0,
			distance_miles NUMERIC(8,2)  NOT NULL DEFAULT 0,
			distance_known BOOLEAN       NOT NULL DEFAULT FALSE,
			rent_per_sqft  NUMERIC(8,2)  NOT NULL DEFAULT 0,
			score          INTEGER       NOT NULL,
			list_date      TIMESTAMPTZ,
			lease_date     TIMESTAMPTZ,
			PRIMARY KEY (search_id, rank)
		);

		CREATE INDEX IF NOT EXISTS idx_comps_listing ON comps(listing_id);
		CREATE INDEX IF NOT EXISTS idx_comps_city    ON comps(city);
		CREATE INDEX IF NOT EXISTS idx_comp_searches_at ON comp_searches(searched_at);
	`)
	return err
}

// Write stores one ranked comp search under a new id and returns the id.
// The run and its comps are written in a single transaction.
func (pw *PostgresWriter) Write(ctx context.Context, run *models.CompResult) (string, error) {
	id := uuid.New()

	subject, err := json.Marshal(run.Subject)
	if err != nil {
		return "", fmt.Errorf("postgres: encode subject: %w", err)
	}
	criteria, err := json.Marshal(run.Criteria)
	if err != nil {
		return "", fmt.Errorf("postgres: encode criteria: %w", err)
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return "", fmt.Errorf("postgres: encode summary: %w", err)
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	searchedAt := run.SearchedAt
	if searchedAt.IsZero() {
		searchedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO comp_searches (id, searched_at, query, fetched, subject, criteria, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, searchedAt, run.Query, run.Fetched, subject, criteria, summary); err != nil {
		return "", fmt.Errorf("postgres: insert search: %w", err)
	}

	const batchSize = 50
	for i := 0; i < len(run.Comps); i += batchSize {
		end := min(i+batchSize, len(run.Comps))
		if err := insertBatch(ctx, tx, id, i, run.Comps[i:end]); err != nil {
			return "", fmt.Errorf("postgres: insert comps: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("postgres: commit: %w", err)
	}
	run.ID = id.String()
	return run.ID, nil
}

const compColumns = 21

func insertBatch(ctx context.Context, tx *sql.Tx, searchID uuid.UUID, offset int, batch []models.ScoredListing) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*compColumns)

	for idx, c := range batch {
		base := idx * compColumns
		placeholders := make([]string, compColumns)
		for i := range placeholders {
			placeholders[i] = fmt.Sprintf("$%d", base+i+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			searchID, offset+idx+1, c.ID, c.Address, c.City, c.State, c.Zip,
			c.Bedrooms, c.Bathrooms, c.Sqft, string(c.PropertyType), c.Rent, string(c.Status),
			c.Lat, c.Lng, c.DistanceMiles, c.DistanceKnown, c.RentPerSqft, c.Score,
			nullTime(c.ListDate), nullTime(c.LeaseDate))
	}

	query := fmt.Sprintf(`
		INSERT INTO comps (search_id, rank, listing_id, address, city, state, zip,
			bedrooms, bathrooms, sqft, property_type, rent, status,
			lat, lng, distance_miles, distance_known, rent_per_sqft, score,
			list_date, lease_date)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	_, err := tx.ExecContext(ctx, query, valueArgs...)
	return err
}

// FetchRun reads an archived comp search back, comps in rank order.
func (pw *PostgresWriter) FetchRun(ctx context.Context, id string) (*models.CompResult, error) {
	searchID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("postgres: bad search id %q: %w", id, err)
	}

	run := &models.CompResult{ID: searchID.String()}
	var subject, criteria, summary []byte
	err = pw.db.QueryRowContext(ctx, `
		SELECT searched_at, query, fetched, subject, criteria, summary
		FROM comp_searches WHERE id = $1
	`, searchID).Scan(&run.SearchedAt, &run.Query, &run.Fetched, &subject, &criteria, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch search: %w", err)
	}
	if err := json.Unmarshal(subject, &run.Subject); err != nil {
		return nil, fmt.Errorf("postgres: decode subject: %w", err)
	}
	if err := json.Unmarshal(criteria, &run.Criteria); err != nil {
		return nil, fmt.Errorf("postgres: decode criteria: %w", err)
	}
	if err := json.Unmarshal(summary, &run.Summary); err != nil {
		return nil, fmt.Errorf("postgres: decode summary: %w", err)
	}

	rows, err := pw.db.QueryContext(ctx, `
		SELECT listing_id, address, city, state, zip, bedrooms, bathrooms, sqft,
			property_type, rent, status, lat, lng, distance_miles, distance_known,
			rent_per_sqft, score, list_date, lease_date
		FROM comps
		WHERE search_id = $1
		ORDER BY rank
	`, searchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch comps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.ScoredListing
		var propertyType, status string
		var listDate, leaseDate sql.NullTime
		if err := rows.Scan(
			&c.ID, &c.Address, &c.City, &c.State, &c.Zip, &c.Bedrooms, &c.Bathrooms, &c.Sqft,
			&propertyType, &c.Rent, &status, &c.Lat, &c.Lng, &c.DistanceMiles, &c.DistanceKnown,
			&c.RentPerSqft, &c.Score, &listDate, &leaseDate,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		c.PropertyType = models.PropertyType(propertyType)
		c.Status = models.ListingStatus(status)
		c.ListDate = listDate.Time
		c.LeaseDate = leaseDate.Time
		run.Comps = append(run.Comps, c)
	}
	return run, rows.Err()
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
