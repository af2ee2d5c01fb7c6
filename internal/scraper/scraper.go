// Package scraper executes one job invocation: fetch, extract, normalize,
// filter, ingest. Every step has a fixed error boundary so a failure
// anywhere still yields a terminal RunResult.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"propscraper/internal/extract"
	"propscraper/internal/fetch"
	"propscraper/internal/log"
	"propscraper/internal/normalize"
	"propscraper/internal/store"
	"propscraper/internal/types"
)

// PageFetcher is what the executor needs from the fetch layer.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

type Executor struct {
	Fetcher PageFetcher
	Store   store.PropertyStore
}

func NewExecutor(fetcher PageFetcher, props store.PropertyStore) *Executor {
	return &Executor{Fetcher: fetcher, Store: props}
}

// Execute runs one invocation of the job and always returns a terminal
// RunResult. Per-record parse failures are counted, never fatal; fetch,
// storage, timeout and cancellation faults terminate the run with their
// kind.
func (e *Executor) Execute(ctx context.Context, job types.Job) types.RunResult {
	run := types.RunResult{
		ID:        uuid.New(),
		JobID:     job.ID,
		Status:    types.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	logger := log.FromContext(ctx).With("job", job.Name, "run", run.ID)

	filters, err := CompileFilters(job.Selectors.Filters)
	if err != nil {
		return finish(&run, types.RunFailed, types.KindValidationError, err.Error())
	}

	body, err := e.Fetcher.Fetch(ctx, job.TargetURL)
	if err != nil {
		return finish(&run, types.RunFailed, fetchKind(ctx, err), err.Error())
	}
	if kind, cerr := cancelled(ctx); cerr != nil {
		return finish(&run, types.RunFailed, kind, cerr.Error())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return finish(&run, types.RunFailed, types.KindParseError, "unparseable document: "+err.Error())
	}

	containers := extract.Containers(doc, job.Selectors.Container)
	run.ItemsFound = len(containers)

	var listings []types.Listing
	for _, container := range containers {
		matches := extract.Fields(container, job.Selectors.Fields)
		listing, ok := buildListing(matches, job.TargetURL)
		if !ok {
			run.ItemsFailed++
			continue
		}
		if !filters.Accept(listing) {
			run.ItemsSkip++
			continue
		}
		listings = append(listings, listing)
	}
	logger.Debugf("extracted %d/%d containers", len(listings), len(containers))

	if kind, cerr := cancelled(ctx); cerr != nil {
		return finish(&run, types.RunFailed, kind, cerr.Error())
	}

	counts, err := e.Store.UpsertBatch(ctx, listings)
	if err != nil {
		if kind, cerr := cancelled(ctx); cerr != nil {
			return finish(&run, types.RunFailed, kind, cerr.Error())
		}
		return finish(&run, types.RunFailed, types.KindStorageError, err.Error())
	}
	run.ItemsNew = counts.New
	run.ItemsUpdate = counts.Updated
	run.ItemsSkip += counts.Skipped

	switch {
	case run.ItemsFailed > 0 && counts.New+counts.Updated > 0:
		return finish(&run, types.RunPartiallyFailed, types.KindParseError, "some containers failed to parse")
	case run.ItemsFailed > 0:
		return finish(&run, types.RunFailed, types.KindParseError, "no records survived parsing")
	default:
		return finish(&run, types.RunSucceeded, types.KindNone, "")
	}
}

func finish(run *types.RunResult, status types.RunStatus, kind types.ErrorKind, detail string) types.RunResult {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = status
	run.ErrorKind = kind
	run.ErrorDetail = detail
	return *run
}

// fetchKind distinguishes a run that was cancelled or timed out during the
// fetch from a genuine network failure.
func fetchKind(ctx context.Context, err error) types.ErrorKind {
	if kind, cerr := cancelled(ctx); cerr != nil {
		return kind
	}
	var ferr *fetch.Error
	if errors.As(err, &ferr) {
		return types.KindFetchError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return types.KindCancelled
	}
	return types.KindFetchError
}

// cancelled is the cooperative check run at step boundaries.
func cancelled(ctx context.Context) (types.ErrorKind, error) {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return types.KindTimeout, err
	case errors.Is(err, context.Canceled):
		return types.KindCancelled, err
	}
	return types.KindNone, nil
}

// buildListing normalizes one container's raw matches into a listing.
// A missing or unnormalizable required field drops the record; optional
// fields null out and the record continues.
func buildListing(matches map[string]extract.Match, pageURL string) (types.Listing, bool) {
	var l types.Listing

	title := matches[types.FieldTitle]
	if !title.Ok {
		return l, false
	}
	l.Title = title.Value

	addr, ok := normalize.Address(matches[types.FieldAddress].Value)
	if !matches[types.FieldAddress].Ok || !ok {
		return l, false
	}
	l.Address = addr

	l.SourceURL = resolveSourceURL(matches[types.FieldSourceURL], pageURL)
	if l.SourceURL == "" {
		return l, false
	}

	if m := matches[types.FieldPrice]; m.Ok {
		if v, ok := normalize.Price(m.Value); ok {
			l.Price = &v
		}
	}
	l.Province = textField(matches, types.FieldProvince)
	l.City = textField(matches, types.FieldCity)
	if m := matches[types.FieldSuburb]; m.Ok {
		s := m.Value
		l.Suburb = &s
	}
	if t, ok := normalize.PropertyType(matches[types.FieldPropertyType].Value); ok {
		l.PropertyType = t
	} else {
		l.PropertyType = "unknown"
	}
	l.Bedrooms = intField(matches, types.FieldBedrooms)
	l.Bathrooms = intField(matches, types.FieldBathrooms)
	l.GarageSpaces = intField(matches, types.FieldGarageSpaces)
	l.LandSize = areaField(matches, types.FieldLandSize)
	l.FloorSize = areaField(matches, types.FieldFloorSize)
	if m := matches[types.FieldLatitude]; m.Ok {
		if v, ok := normalize.Float(m.Value); ok {
			l.Latitude = &v
		}
	}
	if m := matches[types.FieldLongitude]; m.Ok {
		if v, ok := normalize.Float(m.Value); ok {
			l.Longitude = &v
		}
	}
	return l, true
}

// resolveSourceURL resolves a per-record link against the page URL. With
// no source_url selector configured the page URL itself is the dedup key,
// which matches single-listing detail pages.
func resolveSourceURL(m extract.Match, pageURL string) string {
	if !m.Ok {
		return pageURL
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(m.Value)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func textField(matches map[string]extract.Match, field string) string {
	if m := matches[field]; m.Ok {
		return m.Value
	}
	return ""
}

func intField(matches map[string]extract.Match, field string) *int32 {
	if m := matches[field]; m.Ok {
		if v, ok := normalize.SmallInt(m.Value); ok {
			return &v
		}
	}
	return nil
}

func areaField(matches map[string]extract.Match, field string) *float64 {
	if m := matches[field]; m.Ok {
		if v, ok := normalize.Area(m.Value); ok {
			return &v
		}
	}
	return nil
}
