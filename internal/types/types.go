package types

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Field names understood by the selector config and the normalizer.
const (
	FieldTitle        = "title"
	FieldPrice        = "price"
	FieldAddress      = "address"
	FieldProvince     = "province"
	FieldCity         = "city"
	FieldSuburb       = "suburb"
	FieldPropertyType = "property_type"
	FieldBedrooms     = "bedrooms"
	FieldBathrooms    = "bathrooms"
	FieldGarageSpaces = "garage_spaces"
	FieldLandSize     = "land_size"
	FieldFloorSize    = "floor_size"
	FieldSourceURL    = "source_url"
	FieldLatitude     = "latitude"
	FieldLongitude    = "longitude"
)

// RequiredFields must survive extraction and normalization for a
// container to produce a listing.
var RequiredFields = []string{FieldTitle, FieldAddress}

// CronParser accepts 6-field expressions with seconds precision,
// e.g. "0 0 2 * * *" for 02:00 daily.
var CronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// SelectorConfig describes how listings are located on a page. Each field
// maps to an ordered chain of selector candidates tried until one matches.
// A candidate of the form "a.link@href" reads an attribute instead of text.
type SelectorConfig struct {
	Container string              `json:"container,omitempty"`
	Fields    map[string][]string `json:"fields"`
	Filters   []string            `json:"filters,omitempty"`
}

type Job struct {
	ID        uuid.UUID      `json:"job_id" db:"id"`
	Name      string         `json:"job_name" db:"name"`
	TargetURL string         `json:"target_url" db:"target_url"`
	Selectors SelectorConfig `json:"selectors" db:"-"`
	Schedule  string         `json:"schedule" db:"schedule"`
	Active    bool           `json:"active" db:"active"`
	LastRun   *time.Time     `json:"last_run,omitempty" db:"last_run"`
	NextDue   time.Time      `json:"next_due" db:"next_due"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// ErrValidation wraps all job validation failures.
var ErrValidation = errors.New("invalid job")

// Validate rejects malformed job definitions before they reach the
// scheduler.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	u, err := url.Parse(j.TargetURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: target_url %q is not an absolute http(s) URL", ErrValidation, j.TargetURL)
	}
	if _, err := CronParser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("%w: schedule %q: %v", ErrValidation, j.Schedule, err)
	}
	if len(j.Selectors.Fields[FieldTitle]) == 0 {
		return fmt.Errorf("%w: a title selector is required", ErrValidation)
	}
	return nil
}

// NextAfter evaluates the job's cron expression against t.
func (j *Job) NextAfter(t time.Time) (time.Time, error) {
	sched, err := CronParser.Parse(j.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

type RunStatus string

const (
	RunPending         RunStatus = "pending"
	RunRunning         RunStatus = "running"
	RunSucceeded       RunStatus = "succeeded"
	RunFailed          RunStatus = "failed"
	RunPartiallyFailed RunStatus = "partially_failed"
)

// ErrorKind classifies why a run failed. ParseError is the only kind that
// is local to single records; the rest terminate the run.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindFetchError        ErrorKind = "fetch_error"
	KindParseError        ErrorKind = "parse_error"
	KindStorageError      ErrorKind = "storage_error"
	KindJobAlreadyRunning ErrorKind = "job_already_running"
	KindCancelled         ErrorKind = "cancelled"
	KindTimeout           ErrorKind = "timeout"
	KindValidationError   ErrorKind = "validation_error"
)

type RunResult struct {
	ID          uuid.UUID  `json:"run_id" db:"id"`
	JobID       uuid.UUID  `json:"job_id" db:"job_id"`
	Status      RunStatus  `json:"status" db:"status"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	ItemsFound  int        `json:"items_found" db:"items_found"`
	ItemsNew    int        `json:"items_new" db:"items_new"`
	ItemsUpdate int        `json:"items_updated" db:"items_updated"`
	ItemsSkip   int        `json:"items_skipped" db:"items_skipped"`
	ItemsFailed int        `json:"items_failed" db:"items_failed"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty" db:"error_kind"`
	ErrorDetail string     `json:"error_detail,omitempty" db:"error_detail"`
}

// Terminal reports whether the run has reached a final status.
func (r *RunResult) Terminal() bool {
	switch r.Status {
	case RunSucceeded, RunFailed, RunPartiallyFailed:
		return true
	}
	return false
}

// Listing is one record extracted from a page, before persistence.
// Nullable fields stay nil when the page does not carry them.
type Listing struct {
	Title        string   `json:"title"`
	Price        *int64   `json:"price,omitempty"`
	Address      string   `json:"address"`
	Province     string   `json:"province"`
	City         string   `json:"city"`
	Suburb       *string  `json:"suburb,omitempty"`
	PropertyType string   `json:"property_type"`
	Bedrooms     *int32   `json:"bedrooms,omitempty"`
	Bathrooms    *int32   `json:"bathrooms,omitempty"`
	GarageSpaces *int32   `json:"garage_spaces,omitempty"`
	LandSize     *float64 `json:"land_size,omitempty"`
	FloorSize    *float64 `json:"floor_size,omitempty"`
	SourceURL    string   `json:"source_url"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
}

// Property is the durable form of a listing, unique per source_url.
type Property struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Title        string    `json:"title" db:"title"`
	Price        *int64    `json:"price,omitempty" db:"price"`
	Address      string    `json:"address" db:"address"`
	Province     string    `json:"province" db:"province"`
	City         string    `json:"city" db:"city"`
	Suburb       *string   `json:"suburb,omitempty" db:"suburb"`
	PropertyType string    `json:"property_type" db:"property_type"`
	Bedrooms     *int32    `json:"bedrooms,omitempty" db:"bedrooms"`
	Bathrooms    *int32    `json:"bathrooms,omitempty" db:"bathrooms"`
	GarageSpaces *int32    `json:"garage_spaces,omitempty" db:"garage_spaces"`
	LandSize     *float64  `json:"land_size,omitempty" db:"land_size"`
	FloorSize    *float64  `json:"floor_size,omitempty" db:"floor_size"`
	SourceURL    string    `json:"source_url" db:"source_url"`
	Latitude     *float64  `json:"latitude,omitempty" db:"latitude"`
	Longitude    *float64  `json:"longitude,omitempty" db:"longitude"`
	ScrapedAt    time.Time `json:"scraped_at" db:"scraped_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// UpsertCounts is what the ingestion store reports for one batch.
type UpsertCounts struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// PropertyStats aggregates the persisted property set for the stats
// endpoint.
type PropertyStats struct {
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"by_type"`
	ByCity map[string]int64 `json:"by_city"`
}

// PropertyQuery filters the persisted property set.
type PropertyQuery struct {
	City         string `query:"city"`
	Province     string `query:"province"`
	MinPrice     *int64 `query:"min_price"`
	MaxPrice     *int64 `query:"max_price"`
	PropertyType string `query:"property_type"`
	Limit        int    `query:"limit"`
}
