// Package worker drives queued ingestion jobs through fetch, chunk, embed,
// and store.
package worker

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"kbase/features/job"
	"kbase/internal/embed"
	"kbase/internal/fetcher/web"
	"kbase/internal/kberr"
	"kbase/internal/text"
)

type JobStore interface {
	ClaimNext(ctx context.Context) (*job.Job, error)
	RequeueStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (int, error)
	Update(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)
	BulkCreatePages(ctx context.Context, pages []job.Page) error
	UpdatePageStatus(ctx context.Context, jobID uuid.UUID, url, status, pageErr string) error
}

type WebFetcher interface {
	Fetch(ctx context.Context, rawURL string, cfg web.Config) (web.Result, error)
}

type PDFExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

type Splitter interface {
	Split(input string) []text.Chunk
}

type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) (embed.Result, error)
}

type VectorStore interface {
	ReplaceJobChunks(ctx context.Context, jobID uuid.UUID, chunks []Chunk) error
}

type Worker struct {
	jobs        JobStore
	webFetcher  WebFetcher
	pdf         PDFExtractor
	splitter    Splitter
	embedder    Embedder
	store       VectorStore
	maxAttempts int
	staleAfter  time.Duration

	readFile func(path string) ([]byte, error)
}

func New(jobs JobStore, webFetcher WebFetcher, pdf PDFExtractor, splitter Splitter, embedder Embedder, store VectorStore, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		jobs:        jobs,
		webFetcher:  webFetcher,
		pdf:         pdf,
		splitter:    splitter,
		embedder:    embedder,
		store:       store,
		maxAttempts: maxAttempts,
		staleAfter:  10 * time.Minute,
		readFile:    os.ReadFile,
	}
}

// SetStaleAfter overrides the lease after which a processing job whose worker
// died is considered abandoned.
func (w *Worker) SetStaleAfter(d time.Duration) {
	if d > 0 {
		w.staleAfter = d
	}
}

// SetReadFile overrides how stored uploads are read. Tests use it to avoid
// touching the filesystem.
func (w *Worker) SetReadFile(fn func(path string) ([]byte, error)) {
	w.readFile = fn
}

// Drain claims and processes jobs until the queue has nothing claimable.
// Multiple workers can drain concurrently; the SQL claim keeps them from
// touching the same job or source.
func (w *Worker) Drain(ctx context.Context) error {
	// A worker crash leaves its claimed job in processing forever, so pick up
	// abandoned claims before draining the queue.
	if n, err := w.jobs.RequeueStale(ctx, w.staleAfter, w.maxAttempts); err != nil {
		slog.WarnContext(ctx, "failed to requeue stale jobs", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "requeued stale jobs", "count", n)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		j, err := w.jobs.ClaimNext(ctx)
		if err != nil {
			return err
		}
		if j == nil {
			return nil
		}

		w.processJob(ctx, j)
	}
}

// page is intermediate fetch output before chunking.
type page struct {
	sourceRef string
	text      string
}

func (w *Worker) processJob(ctx context.Context, j *job.Job) {
	log := slog.With("job_id", j.ID, "kind", j.Kind, "source_ref", j.SourceRef, "attempt", j.AttemptCount)
	log.InfoContext(ctx, "processing job")

	pages, err := w.fetch(ctx, j)
	if err != nil {
		w.fail(ctx, j, err)
		return
	}

	// A deleted or externally failed job must not come back from the dead,
	// so re-check before the expensive stages.
	if !w.stillProcessing(ctx, j.ID) {
		log.InfoContext(ctx, "job cancelled during fetch, discarding result")
		return
	}

	var texts []string
	var chunks []Chunk
	position := 0
	for _, p := range pages {
		for _, c := range w.splitter.Split(p.text) {
			chunks = append(chunks, Chunk{
				ID:        ChunkID(j.ID, position),
				JobID:     j.ID,
				SourceRef: p.sourceRef,
				Position:  position,
				Text:      c.Text,
				CreatedAt: time.Now().UTC(),
			})
			texts = append(texts, c.Text)
			position++
		}
	}

	if len(chunks) == 0 {
		w.fail(ctx, j, kberr.Parse(nil, "source produced no extractable text"))
		return
	}

	embedded, err := w.embedder.EmbedAll(ctx, texts)
	if err != nil {
		w.fail(ctx, j, err)
		return
	}

	stored := make([]Chunk, 0, len(chunks))
	for i := range chunks {
		if embedded.Vectors[i] == nil {
			continue
		}
		chunks[i].Vector = embedded.Vectors[i]
		stored = append(stored, chunks[i])
	}

	if len(stored) == 0 {
		w.fail(ctx, j, kberr.Embedding(nil, "every chunk failed embedding"))
		return
	}

	if !w.stillProcessing(ctx, j.ID) {
		log.InfoContext(ctx, "job cancelled during embedding, discarding result")
		return
	}

	if err := w.store.ReplaceJobChunks(ctx, j.ID, stored); err != nil {
		w.fail(ctx, j, err)
		return
	}

	j.Status = job.StatusProcessed
	j.ResultCount = len(stored)
	j.FailedCount = len(embedded.Failed)
	j.ErrorKind = ""
	j.ErrorMessage = ""
	j.UserMessage = ""
	if err := w.jobs.Update(ctx, j); err != nil {
		log.ErrorContext(ctx, "failed to mark job processed", "error", err)
		return
	}
	log.InfoContext(ctx, "job processed", "chunks", len(stored), "failed_chunks", len(embedded.Failed))
}

func (w *Worker) fetch(ctx context.Context, j *job.Job) ([]page, error) {
	switch j.Kind {
	case job.KindWeb:
		res, err := w.webFetcher.Fetch(ctx, j.SourceRef, web.Config{
			FollowLinks:      j.Config.FollowLinks,
			IncludePaths:     j.Config.IncludePaths,
			ExcludePaths:     j.Config.ExcludePaths,
			IncludeSelectors: j.Config.IncludeSelectors,
			ExcludeSelectors: j.Config.ExcludeSelectors,
		})
		if len(res.Visited) > 0 {
			w.recordPages(ctx, j.ID, res.Visited)
		}
		if err != nil {
			return nil, err
		}

		pages := make([]page, 0, len(res.Pages))
		for _, p := range res.Pages {
			pages = append(pages, page{sourceRef: p.URL, text: p.Text})
		}
		return pages, nil

	case job.KindPDF:
		data, err := w.readFile(j.SourceRef)
		if err != nil {
			return nil, kberr.Parse(err, "stored upload %s is unreadable", j.SourceRef)
		}
		content, err := w.pdf.Extract(ctx, data)
		if err != nil {
			return nil, err
		}
		return []page{{sourceRef: j.SourceRef, text: content}}, nil

	default:
		return nil, kberr.Validation("unknown job kind %q", j.Kind)
	}
}

func (w *Worker) recordPages(ctx context.Context, jobID uuid.UUID, visits []web.Visit) {
	pages := make([]job.Page, 0, len(visits))
	for _, v := range visits {
		status := "completed"
		if v.Error != "" {
			status = "failed"
		}
		pages = append(pages, job.Page{
			JobID:  jobID,
			URL:    v.URL,
			Depth:  v.Depth,
			Status: status,
			Error:  v.Error,
		})
	}
	if err := w.jobs.BulkCreatePages(ctx, pages); err != nil {
		slog.WarnContext(ctx, "failed to record crawled pages", "error", err, "job_id", jobID)
		return
	}
	// The bulk insert skips rows that already exist, so a retry would leave a
	// page stuck on its previous outcome. Refresh each one.
	for _, p := range pages {
		if err := w.jobs.UpdatePageStatus(ctx, jobID, p.URL, p.Status, p.Error); err != nil {
			slog.WarnContext(ctx, "failed to update page status", "error", err, "job_id", jobID, "url", p.URL)
		}
	}
}

func (w *Worker) stillProcessing(ctx context.Context, id uuid.UUID) bool {
	current, err := w.jobs.Get(ctx, id)
	if err != nil {
		return false
	}
	return current.Status == job.StatusProcessing
}

// fail records the outcome of a failed attempt. Retryable errors requeue the
// job until the attempt ceiling; bot protection and parse failures are
// terminal immediately.
func (w *Worker) fail(ctx context.Context, j *job.Job, err error) {
	kind := kberr.KindOf(err)

	switch {
	case kind == kberr.KindBotProtected:
		j.Status = job.StatusBotProtected
	case kberr.Retryable(err) && j.AttemptCount < w.maxAttempts:
		j.Status = job.StatusQueued
	default:
		j.Status = job.StatusFailed
	}

	j.ErrorKind = string(kind)
	j.ErrorMessage = err.Error()
	j.UserMessage = kberr.UserMessage(err)

	slog.ErrorContext(ctx, "job attempt failed",
		"job_id", j.ID, "kind", kind, "status", j.Status, "attempt", j.AttemptCount, "error", err)

	if updateErr := w.jobs.Update(ctx, j); updateErr != nil {
		slog.ErrorContext(ctx, "failed to persist job failure", "error", updateErr, "job_id", j.ID)
	}
}
