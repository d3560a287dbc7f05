package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"athome-scraper/models"
	"athome-scraper/utils"
)

// PostgresStore persists listings, run logs and listing history to PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *utils.Logger
	now    func() time.Time
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(dsn string, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if logger != nil {
			logger.Warn("[store] postgres not ready (attempt %d/10): %v", i+1, err)
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStore{db: db, logger: logger, now: time.Now}
	if err := ps.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (ps *PostgresStore) migrate() error {
	_, err := ps.db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			id                      TEXT PRIMARY KEY,
			source_url              TEXT NOT NULL,
			title                   TEXT NOT NULL DEFAULT '',
			address                 TEXT NOT NULL DEFAULT '',
			price_text              TEXT NOT NULL DEFAULT '',
			price_amount            INTEGER,
			area_text               TEXT NOT NULL DEFAULT '',
			area_m2                 DOUBLE PRECISION,
			area_tsubo              DOUBLE PRECISION,
			nearest_station         TEXT NOT NULL DEFAULT '',
			walk_time_text          TEXT NOT NULL DEFAULT '',
			walk_minutes            INTEGER,
			building_coverage_ratio DOUBLE PRECISION,
			floor_area_ratio        DOUBLE PRECISION,
			zoning                  TEXT NOT NULL DEFAULT '',
			image_urls              TEXT[] NOT NULL DEFAULT '{}',
			total_score             DOUBLE PRECISION NOT NULL DEFAULT 0,
			grade                   VARCHAR(1) NOT NULL DEFAULT 'D',
			price_score             DOUBLE PRECISION NOT NULL DEFAULT 0,
			location_score          DOUBLE PRECISION NOT NULL DEFAULT 0,
			area_score              DOUBLE PRECISION NOT NULL DEFAULT 0,
			investment_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
			scraped_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_active               BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE INDEX IF NOT EXISTS idx_listings_grade  ON listings(grade);
		CREATE INDEX IF NOT EXISTS idx_listings_active ON listings(is_active);
		CREATE INDEX IF NOT EXISTS idx_listings_total  ON listings(total_score DESC);

		CREATE TABLE IF NOT EXISTS run_logs (
			id                BIGSERIAL PRIMARY KEY,
			run_id            UUID UNIQUE NOT NULL,
			total_seen        INTEGER NOT NULL DEFAULT 0,
			new_count         INTEGER NOT NULL DEFAULT 0,
			updated_count     INTEGER NOT NULL DEFAULT 0,
			deactivated_count INTEGER NOT NULL DEFAULT 0,
			error_count       INTEGER NOT NULL DEFAULT 0,
			candidate_count   INTEGER NOT NULL DEFAULT 0,
			status            VARCHAR(20) NOT NULL,
			message           TEXT NOT NULL DEFAULT '',
			duration_seconds  DOUBLE PRECISION NOT NULL DEFAULT 0,
			executed_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS listing_history (
			id          BIGSERIAL PRIMARY KEY,
			listing_id  TEXT NOT NULL REFERENCES listings(id),
			change_type VARCHAR(30) NOT NULL,
			old_value   TEXT NOT NULL DEFAULT '',
			new_value   TEXT NOT NULL DEFAULT '',
			changed_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_history_listing ON listing_history(listing_id);
	`)
	return err
}

const listingColumns = `
	id, source_url, title, address, price_text, price_amount, area_text, area_m2, area_tsubo,
	nearest_station, walk_time_text, walk_minutes, building_coverage_ratio, floor_area_ratio,
	zoning, image_urls, total_score, grade, price_score, location_score, area_score,
	investment_score, scraped_at, updated_at, is_active`

// Upsert writes one listing and its history entries in a single transaction.
// The insert is attempted first with ON CONFLICT DO NOTHING, so two writers
// racing on a new id end up as one insert and one update.
func (ps *PostgresStore) Upsert(ctx context.Context, l *models.Listing) (bool, string, error) {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := ps.now()
	next := *l
	next.IsActive = true
	next.UpdatedAt = now
	if next.ScrapedAt.IsZero() {
		next.ScrapedAt = now
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
		ON CONFLICT (id) DO NOTHING`,
		listingArgs(&next)...)
	if err != nil {
		return false, "", fmt.Errorf("postgres: insert %s: %w", l.ID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, "", fmt.Errorf("postgres: insert %s: %w", l.ID, err)
	}

	var prev *models.Listing
	if inserted == 0 {
		var scrapedAt time.Time
		prev, scrapedAt, err = lockListing(ctx, tx, l.ID)
		if err != nil {
			return false, "", err
		}
		next.ScrapedAt = scrapedAt

		_, err = tx.ExecContext(ctx, `
			UPDATE listings SET
				source_url = $2, title = $3, address = $4, price_text = $5, price_amount = $6,
				area_text = $7, area_m2 = $8, area_tsubo = $9, nearest_station = $10,
				walk_time_text = $11, walk_minutes = $12, building_coverage_ratio = $13,
				floor_area_ratio = $14, zoning = $15, image_urls = $16, total_score = $17,
				grade = $18, price_score = $19, location_score = $20, area_score = $21,
				investment_score = $22, scraped_at = $23, updated_at = $24, is_active = $25
			WHERE id = $1`,
			listingArgs(&next)...)
		if err != nil {
			return false, "", fmt.Errorf("postgres: update %s: %w", l.ID, err)
		}
	}

	if err := insertHistory(ctx, tx, diffHistory(prev, &next, now)); err != nil {
		return false, "", err
	}

	if err := tx.Commit(); err != nil {
		return false, "", fmt.Errorf("postgres: commit %s: %w", l.ID, err)
	}
	return prev == nil, l.ID, nil
}

// lockListing reads the fields diffHistory needs and locks the row for the
// rest of the transaction.
func lockListing(ctx context.Context, tx *sql.Tx, id string) (*models.Listing, time.Time, error) {
	var (
		priceAmt  sql.NullInt64
		grade     string
		active    bool
		scrapedAt time.Time
	)
	err := tx.QueryRowContext(ctx,
		`SELECT price_amount, grade, is_active, scraped_at FROM listings WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&priceAmt, &grade, &active, &scrapedAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("postgres: lock %s: %w", id, err)
	}

	prev := &models.Listing{ID: id, Score: models.Score{Grade: models.Grade(grade)}, IsActive: active}
	if priceAmt.Valid {
		v := int(priceAmt.Int64)
		prev.PriceAmount = &v
	}
	return prev, scrapedAt, nil
}

func listingArgs(l *models.Listing) []interface{} {
	images := l.ImageURLs
	if images == nil {
		images = []string{}
	}
	return []interface{}{
		l.ID, l.SourceURL, l.Title, l.Address, l.PriceText, nullInt(l.PriceAmount),
		l.AreaText, nullFloatArg(l.AreaSquareMeters), nullFloatArg(l.AreaTsubo), l.NearestStation,
		l.WalkTimeText, nullInt(l.WalkMinutes), nullFloatArg(l.BuildingCoverageRatio),
		nullFloatArg(l.FloorAreaRatio), l.ZoningText, pq.Array(images), l.Score.Total,
		string(l.Score.Grade), l.Score.Price, l.Score.Location, l.Score.Area,
		l.Score.Investment, l.ScrapedAt, l.UpdatedAt, l.IsActive,
	}
}

func insertHistory(ctx context.Context, tx *sql.Tx, entries []models.HistoryEntry) error {
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO listing_history (listing_id, change_type, old_value, new_value, changed_at)
			VALUES ($1, $2, $3, $4, $5)`,
			e.ListingID, e.ChangeType, e.OldValue, e.NewValue, e.ChangedAt)
		if err != nil {
			return fmt.Errorf("postgres: history %s: %w", e.ListingID, err)
		}
	}
	return nil
}

// Reconcile deactivates every active listing not in observed.
func (ps *PostgresStore) Reconcile(ctx context.Context, observed map[string]struct{}) (int, error) {
	ids := make([]string, 0, len(observed))
	for id := range observed {
		ids = append(ids, id)
	}

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := ps.now()
	rows, err := tx.QueryContext(ctx, `
		UPDATE listings SET is_active = FALSE, updated_at = $1
		WHERE is_active AND NOT (id = ANY($2))
		RETURNING id`,
		now, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("postgres: reconcile: %w", err)
	}

	var entries []models.HistoryEntry
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("postgres: reconcile scan: %w", err)
		}
		entries = append(entries, models.HistoryEntry{ListingID: id, ChangeType: models.ChangeDeactivated, ChangedAt: now})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("postgres: reconcile rows: %w", err)
	}

	if err := insertHistory(ctx, tx, entries); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: commit reconcile: %w", err)
	}
	return len(entries), nil
}

// RecordRun appends a run log row.
func (ps *PostgresStore) RecordRun(ctx context.Context, run *models.RunLog) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO run_logs (run_id, total_seen, new_count, updated_count, deactivated_count,
			error_count, candidate_count, status, message, duration_seconds, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.RunID, run.TotalSeen, run.NewCount, run.UpdatedCount, run.DeactivatedCount,
		run.ErrorCount, run.CandidateCount, string(run.Status), run.Message,
		run.DurationSeconds, run.ExecutedAt)
	if err != nil {
		return fmt.Errorf("postgres: record run: %w", err)
	}
	return nil
}

// QueryActive retrieves active listings, best first.
func (ps *PostgresStore) QueryActive(ctx context.Context, grades ...models.Grade) ([]*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE is_active`
	var args []interface{}
	if len(grades) > 0 {
		gs := make([]string, len(grades))
		for i, g := range grades {
			gs[i] = string(g)
		}
		query += ` AND grade = ANY($1)`
		args = append(args, pq.Array(gs))
	}
	query += ` ORDER BY total_score DESC, scraped_at DESC, id`

	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query active: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// AggregateStats summarises the active listings and the most recent run.
func (ps *PostgresStore) AggregateStats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{CountByGrade: make(map[models.Grade]int, len(models.AllGrades))}

	rows, err := ps.db.QueryContext(ctx,
		`SELECT grade, COUNT(*) FROM listings WHERE is_active GROUP BY grade`)
	if err != nil {
		return nil, fmt.Errorf("postgres: count by grade: %w", err)
	}
	for rows.Next() {
		var g string
		var n int
		if err := rows.Scan(&g, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan grade count: %w", err)
		}
		stats.CountByGrade[models.Grade(g)] = n
		stats.ActiveCount += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var run models.RunLog
	var status string
	err = ps.db.QueryRowContext(ctx, `
		SELECT run_id, total_seen, new_count, updated_count, deactivated_count, error_count,
			candidate_count, status, message, duration_seconds, executed_at
		FROM run_logs ORDER BY id DESC LIMIT 1`,
	).Scan(&run.RunID, &run.TotalSeen, &run.NewCount, &run.UpdatedCount, &run.DeactivatedCount,
		&run.ErrorCount, &run.CandidateCount, &status, &run.Message, &run.DurationSeconds, &run.ExecutedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("postgres: last run: %w", err)
	default:
		run.Status = models.RunStatus(status)
		stats.LastRun = &run
	}

	top, err := ps.QueryActive(ctx, models.GradeS, models.GradeA)
	if err != nil {
		return nil, err
	}
	if len(top) > maxTopListings {
		top = top[:maxTopListings]
	}
	stats.TopByGrade = top

	return stats, nil
}

// Get retrieves one listing by id.
func (ps *PostgresStore) Get(ctx context.Context, id string) (*models.Listing, error) {
	row := ps.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// History returns the change entries of one listing, oldest first.
func (ps *PostgresStore) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT listing_id, change_type, old_value, new_value, changed_at
		FROM listing_history WHERE listing_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ListingID, &e.ChangeType, &e.OldValue, &e.NewValue, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var (
		l                         models.Listing
		priceAmt, walkMin         sql.NullInt64
		areaM2, tsubo, cover, far sql.NullFloat64
		grade                     string
	)
	err := row.Scan(
		&l.ID, &l.SourceURL, &l.Title, &l.Address, &l.PriceText, &priceAmt, &l.AreaText,
		&areaM2, &tsubo, &l.NearestStation, &l.WalkTimeText, &walkMin, &cover, &far,
		&l.ZoningText, pq.Array(&l.ImageURLs), &l.Score.Total, &grade, &l.Score.Price,
		&l.Score.Location, &l.Score.Area, &l.Score.Investment, &l.ScrapedAt, &l.UpdatedAt,
		&l.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: scan listing: %w", err)
	}

	l.Score.Grade = models.Grade(grade)
	if priceAmt.Valid {
		v := int(priceAmt.Int64)
		l.PriceAmount = &v
	}
	if walkMin.Valid {
		v := int(walkMin.Int64)
		l.WalkMinutes = &v
	}
	l.AreaSquareMeters = nullFloat(areaM2)
	l.AreaTsubo = nullFloat(tsubo)
	l.BuildingCoverageRatio = nullFloat(cover)
	l.FloorAreaRatio = nullFloat(far)
	return &l, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloatArg(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
