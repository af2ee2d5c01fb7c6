package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"propscraper/internal/types"
)

// PGPropertyStore implements PropertyStore on a pgx pool.
type PGPropertyStore struct {
	Pool *pgxpool.Pool
}

func NewPGPropertyStore(pool *pgxpool.Pool) *PGPropertyStore {
	return &PGPropertyStore{Pool: pool}
}

const propertyUpsertSQL = `
INSERT INTO properties (
	id, title, price, address, province, city, suburb, property_type,
	bedrooms, bathrooms, garage_spaces, land_size, floor_size,
	source_url, latitude, longitude, scraped_at, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17, $17
)
ON CONFLICT (source_url) DO UPDATE SET
	title          = EXCLUDED.title,
	price          = COALESCE(EXCLUDED.price, properties.price),
	address        = EXCLUDED.address,
	province       = CASE WHEN EXCLUDED.province <> '' THEN EXCLUDED.province ELSE properties.province END,
	city           = CASE WHEN EXCLUDED.city <> '' THEN EXCLUDED.city ELSE properties.city END,
	suburb         = COALESCE(EXCLUDED.suburb, properties.suburb),
	property_type  = CASE WHEN EXCLUDED.property_type <> '' THEN EXCLUDED.property_type ELSE properties.property_type END,
	bedrooms       = COALESCE(EXCLUDED.bedrooms, properties.bedrooms),
	bathrooms      = COALESCE(EXCLUDED.bathrooms, properties.bathrooms),
	garage_spaces  = COALESCE(EXCLUDED.garage_spaces, properties.garage_spaces),
	land_size      = COALESCE(EXCLUDED.land_size, properties.land_size),
	floor_size     = COALESCE(EXCLUDED.floor_size, properties.floor_size),
	latitude       = COALESCE(EXCLUDED.latitude, properties.latitude),
	longitude      = COALESCE(EXCLUDED.longitude, properties.longitude),
	scraped_at     = EXCLUDED.scraped_at,
	updated_at     = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`

// UpsertBatch applies the whole batch in one transaction. Rows are touched
// in source_url order so two concurrent runs hitting overlapping URLs lock
// rows in the same order instead of deadlocking.
func (s *PGPropertyStore) UpsertBatch(ctx context.Context, listings []types.Listing) (types.UpsertCounts, error) {
	var counts types.UpsertCounts
	if len(listings) == 0 {
		return counts, nil
	}

	deduped, skipped := DedupeBySourceURL(listings)
	counts.Skipped = skipped
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].SourceURL < deduped[j].SourceURL })

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return types.UpsertCounts{}, fmt.Errorf("begin upsert batch: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, l := range deduped {
		var inserted bool
		err := tx.QueryRow(ctx, propertyUpsertSQL,
			uuid.New(), l.Title, l.Price, l.Address, l.Province, l.City,
			l.Suburb, l.PropertyType, l.Bedrooms, l.Bathrooms, l.GarageSpaces,
			l.LandSize, l.FloorSize, l.SourceURL, l.Latitude, l.Longitude, now,
		).Scan(&inserted)
		if err != nil {
			return types.UpsertCounts{}, fmt.Errorf("upsert %s: %w", l.SourceURL, err)
		}
		if inserted {
			counts.New++
		} else {
			counts.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return types.UpsertCounts{}, fmt.Errorf("commit upsert batch: %w", err)
	}
	return counts, nil
}

// DedupeBySourceURL keeps the first record per source_url and reports how
// many in-batch duplicates were dropped.
func DedupeBySourceURL(listings []types.Listing) ([]types.Listing, int) {
	seen := make(map[string]struct{}, len(listings))
	out := make([]types.Listing, 0, len(listings))
	skipped := 0
	for _, l := range listings {
		if _, dup := seen[l.SourceURL]; dup {
			skipped++
			continue
		}
		seen[l.SourceURL] = struct{}{}
		out = append(out, l)
	}
	return out, skipped
}

const propertyColumns = `
	id, title, price, address, province, city, suburb, property_type,
	bedrooms, bathrooms, garage_spaces, land_size, floor_size,
	source_url, latitude, longitude, scraped_at, created_at, updated_at`

func (s *PGPropertyStore) GetBySourceURL(ctx context.Context, sourceURL string) (*types.Property, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE source_url = $1`, sourceURL)
	if err != nil {
		return nil, err
	}
	p, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[types.Property])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Search builds the filter query over the secondary indexes on city, price
// and property_type.
func (s *PGPropertyStore) Search(ctx context.Context, q types.PropertyQuery) ([]types.Property, error) {
	where := []string{}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.City != "" {
		add("city = $%d", q.City)
	}
	if q.Province != "" {
		add("province = $%d", q.Province)
	}
	if q.PropertyType != "" {
		add("property_type = $%d", q.PropertyType)
	}
	if q.MinPrice != nil {
		add("price >= $%d", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		add("price <= $%d", *q.MaxPrice)
	}

	sql := `SELECT ` + propertyColumns + ` FROM properties`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY updated_at DESC"
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[types.Property])
}

func (s *PGPropertyStore) Recent(ctx context.Context, days, limit int) ([]types.Property, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT `+propertyColumns+` FROM properties
		 WHERE scraped_at > now() - make_interval(days => $1)
		 ORDER BY scraped_at DESC LIMIT $2`, days, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[types.Property])
}

func (s *PGPropertyStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM properties`).Scan(&n)
	return n, err
}

func (s *PGPropertyStore) Stats(ctx context.Context) (types.PropertyStats, error) {
	stats := types.PropertyStats{
		ByType: map[string]int64{},
		ByCity: map[string]int64{},
	}
	var err error
	if stats.Total, err = s.Count(ctx); err != nil {
		return stats, err
	}
	if err := s.group(ctx, `SELECT property_type, count(*) FROM properties GROUP BY property_type`, stats.ByType); err != nil {
		return stats, err
	}
	if err := s.group(ctx, `SELECT city, count(*) FROM properties WHERE city <> '' GROUP BY city`, stats.ByCity); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *PGPropertyStore) group(ctx context.Context, sql string, into map[string]int64) error {
	rows, err := s.Pool.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// PGJobStore persists job definitions; the selector config travels as
// jsonb.
type PGJobStore struct {
	Pool *pgxpool.Pool
}

func NewPGJobStore(pool *pgxpool.Pool) *PGJobStore {
	return &PGJobStore{Pool: pool}
}

func (s *PGJobStore) List(ctx context.Context) ([]types.Job, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, name, target_url, selectors, schedule, active, last_run, next_due, created_at, updated_at
		 FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		var j types.Job
		var selectors []byte
		if err := rows.Scan(&j.ID, &j.Name, &j.TargetURL, &selectors, &j.Schedule,
			&j.Active, &j.LastRun, &j.NextDue, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(selectors, &j.Selectors); err != nil {
			return nil, fmt.Errorf("decode selectors for job %s: %w", j.ID, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PGJobStore) Create(ctx context.Context, job *types.Job) error {
	selectors, err := json.Marshal(job.Selectors)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO jobs (id, name, target_url, selectors, schedule, active, last_run, next_due, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Name, job.TargetURL, selectors, job.Schedule, job.Active,
		job.LastRun, job.NextDue, job.CreatedAt, job.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateName
	}
	return err
}

func (s *PGJobStore) Update(ctx context.Context, job *types.Job) error {
	selectors, err := json.Marshal(job.Selectors)
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET name=$2, target_url=$3, selectors=$4, schedule=$5, active=$6,
		 last_run=$7, next_due=$8, updated_at=$9 WHERE id=$1`,
		job.ID, job.Name, job.TargetURL, selectors, job.Schedule, job.Active,
		job.LastRun, job.NextDue, job.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM jobs WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PGRunStore appends run results, trimming history per job to a bound.
type PGRunStore struct {
	Pool    *pgxpool.Pool
	History int
}

func NewPGRunStore(pool *pgxpool.Pool, history int) *PGRunStore {
	if history <= 0 {
		history = 200
	}
	return &PGRunStore{Pool: pool, History: history}
}

func (s *PGRunStore) Record(ctx context.Context, run *types.RunResult) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO run_results (id, job_id, status, started_at, finished_at,
		   items_found, items_new, items_updated, items_skipped, items_failed,
		   error_kind, error_detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.JobID, run.Status, run.StartedAt, run.FinishedAt,
		run.ItemsFound, run.ItemsNew, run.ItemsUpdate, run.ItemsSkip,
		run.ItemsFailed, run.ErrorKind, run.ErrorDetail)
	if err != nil {
		return err
	}
	// keep the history bounded per job
	_, err = s.Pool.Exec(ctx,
		`DELETE FROM run_results WHERE job_id = $1 AND id NOT IN (
		   SELECT id FROM run_results WHERE job_id = $1
		   ORDER BY started_at DESC LIMIT $2)`,
		run.JobID, s.History)
	return err
}

func (s *PGRunStore) List(ctx context.Context, jobID uuid.UUID, limit int) ([]types.RunResult, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	sql := `SELECT id, job_id, status, started_at, finished_at,
	          items_found, items_new, items_updated, items_skipped, items_failed,
	          error_kind, error_detail
	        FROM run_results`
	args := []any{}
	if jobID != uuid.Nil {
		sql += ` WHERE job_id = $1`
		args = append(args, jobID)
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, len(args))

	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[types.RunResult])
}

func (s *PGRunStore) Counts(ctx context.Context) (total, succeeded int64, err error) {
	err = s.Pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE status = $1) FROM run_results`,
		types.RunSucceeded).Scan(&total, &succeeded)
	return total, succeeded, err
}
