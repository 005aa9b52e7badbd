package job

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"kbase/internal/kberr"
	"kbase/internal/middleware"
)

const (
	KindWeb = "web"
	KindPDF = "pdf"
)

const (
	StatusQueued       = "queued"
	StatusProcessing   = "processing"
	StatusProcessed    = "processed"
	StatusFailed       = "failed"
	StatusBotProtected = "bot_protected"
)

// KickTopic is the NSQ topic that wakes workers after a submit.
const KickTopic = "ingest.kick"

// Config is the per-job ingestion configuration, stored as JSONB.
type Config struct {
	FollowLinks      bool     `json:"follow_links,omitempty"`
	IncludePaths     []string `json:"include_paths,omitempty"`
	ExcludePaths     []string `json:"exclude_paths,omitempty"`
	IncludeSelectors []string `json:"include_selectors,omitempty"`
	ExcludeSelectors []string `json:"exclude_selectors,omitempty"`

	// pdf only
	Filename  string `json:"filename,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

type Job struct {
	ID            uuid.UUID  `json:"id"`
	Kind          string     `json:"kind"`
	SourceRef     string     `json:"source_ref"`
	Config        Config     `json:"config"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	ErrorMessage  string     `json:"-"`
	UserMessage   string     `json:"user_message,omitempty"`
	ResultCount   int        `json:"result_count"`
	FailedCount   int        `json:"failed_count"`
}

// Page is one URL visited while crawling a web job.
type Page struct {
	JobID     uuid.UUID `json:"job_id"`
	URL       string    `json:"url"`
	Depth     int       `json:"depth"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusProcessed, StatusFailed, StatusBotProtected:
		return true
	}
	return false
}

// CanTransition is the job lifecycle table. Processed and bot_protected are
// terminal; failed may go back to queued through an explicit resubmit.
func CanTransition(from, to string) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusQueued || to == StatusProcessed ||
			to == StatusFailed || to == StatusBotProtected
	case StatusFailed:
		return to == StatusQueued
	default:
		return false
	}
}

type Repository interface {
	Create(ctx context.Context, j *Job) error
	ClaimNext(ctx context.Context) (*Job, error)
	RequeueStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (int, error)
	Update(ctx context.Context, j *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Job, error)
	ListBySourceRef(ctx context.Context, ref string) ([]Job, error)
	ListBySourceRefPrefix(ctx context.Context, prefix string) ([]Job, error)
	HasActive(ctx context.Context, ref string) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int, error)

	BulkCreatePages(ctx context.Context, pages []Page) error
	UpdatePageStatus(ctx context.Context, jobID uuid.UUID, url, status, pageErr string) error
	ListPages(ctx context.Context, jobID uuid.UUID) ([]Page, error)
	DeletePages(ctx context.Context, jobID uuid.UUID) error
}

type ChunkStore interface {
	DeleteByJob(ctx context.Context, jobID uuid.UUID) error
	DeleteBySourceRef(ctx context.Context, ref string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo        Repository
	pub         EventPublisher
	chunkStore  ChunkStore
	maxPDFBytes int64
	maxAttempts int
}

func NewService(repo Repository, pub EventPublisher, chunkStore ChunkStore, maxPDFBytes int64, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{repo: repo, pub: pub, chunkStore: chunkStore, maxPDFBytes: maxPDFBytes, maxAttempts: maxAttempts}
}

// SubmitWeb queues a crawl job for rawURL. A ref whose latest attempt hit bot
// protection is rejected up front so callers stop hammering a blocked site.
func (s *Service) SubmitWeb(ctx context.Context, rawURL string, cfg Config) (*Job, error) {
	ref, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	if err := s.checkSubmittable(ctx, ref); err != nil {
		return nil, err
	}

	j := &Job{
		Kind:      KindWeb,
		SourceRef: ref,
		Config:    cfg,
		Status:    StatusQueued,
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}

	s.kick(ctx, j)
	return j, nil
}

// SubmitPDF queues an extraction job for an already-stored upload. Size is
// validated here so oversized files fail synchronously.
func (s *Service) SubmitPDF(ctx context.Context, storedPath, filename string, size int64) (*Job, error) {
	if filename == "" {
		return nil, kberr.Validation("filename is required")
	}
	if size <= 0 {
		return nil, kberr.Validation("uploaded file is empty")
	}
	if s.maxPDFBytes > 0 && size > s.maxPDFBytes {
		return nil, kberr.Validation("file exceeds the maximum size of %d MB", s.maxPDFBytes>>20)
	}

	if err := s.checkSubmittable(ctx, storedPath); err != nil {
		return nil, err
	}

	j := &Job{
		Kind:      KindPDF,
		SourceRef: storedPath,
		Config:    Config{Filename: filename, SizeBytes: size},
		Status:    StatusQueued,
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}

	s.kick(ctx, j)
	return j, nil
}

func (s *Service) checkSubmittable(ctx context.Context, ref string) error {
	active, err := s.repo.HasActive(ctx, ref)
	if err != nil {
		return err
	}
	if active {
		return kberr.Conflict("an ingestion for this source is already in progress")
	}

	prev, err := s.repo.ListBySourceRef(ctx, ref)
	if err != nil {
		return err
	}
	if len(prev) > 0 && prev[0].Status == StatusBotProtected {
		return kberr.BotProtected(ref)
	}
	return nil
}

func (s *Service) kick(ctx context.Context, j *Job) {
	payload, _ := json.Marshal(map[string]interface{}{
		"job_id":         j.ID.String(),
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(KickTopic, payload); err != nil {
		// Workers also poll on a ticker, so a lost kick only delays the job.
		slog.WarnContext(ctx, "failed to publish worker kick", "error", err, "job_id", j.ID)
		return
	}
	slog.InfoContext(ctx, "job queued", "job_id", j.ID, "kind", j.Kind, "source_ref", j.SourceRef)
}

// StatusView is the poll response for one job.
type StatusView struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	UserMessage string `json:"user_message,omitempty"`
	Processed   int    `json:"processed"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"`
}

func (s *Service) Poll(ctx context.Context, ids []uuid.UUID) ([]StatusView, error) {
	if len(ids) == 0 {
		return nil, kberr.Validation("job_ids must not be empty")
	}

	jobs, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}

	views := make([]StatusView, 0, len(ids))
	for _, id := range ids {
		j, ok := byID[id]
		if !ok {
			views = append(views, StatusView{JobID: id.String(), Error: "not found"})
			continue
		}
		views = append(views, StatusView{
			JobID:       j.ID.String(),
			Status:      j.Status,
			UserMessage: j.UserMessage,
			Processed:   j.ResultCount,
			Failed:      j.FailedCount,
			Error:       j.ErrorKind,
		})
	}
	return views, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// CrawledURLs lists every URL visited by the most recent job for parentURL.
func (s *Service) CrawledURLs(ctx context.Context, parentURL string) ([]Page, error) {
	ref, err := normalizeURL(parentURL)
	if err != nil {
		return nil, err
	}

	jobs, err := s.repo.ListBySourceRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, kberr.Validation("no ingestion found for this URL")
	}
	return s.repo.ListPages(ctx, jobs[0].ID)
}

// DeleteRequest selects jobs to erase: a single job, all jobs of one source,
// or every job underneath a parent URL.
type DeleteRequest struct {
	JobID     string `json:"job_id,omitempty"`
	URL       string `json:"url,omitempty"`
	ParentURL string `json:"parent_url,omitempty"`
	DeleteAll bool   `json:"delete_all,omitempty"`
}

func (s *Service) Delete(ctx context.Context, req DeleteRequest) (int, error) {
	switch {
	case req.JobID != "":
		id, err := uuid.Parse(req.JobID)
		if err != nil {
			return 0, kberr.Validation("invalid job_id")
		}
		return 1, s.deleteJob(ctx, id)

	case req.URL != "":
		ref, err := normalizeURL(req.URL)
		if err != nil {
			return 0, err
		}
		jobs, err := s.repo.ListBySourceRef(ctx, ref)
		if err != nil {
			return 0, err
		}
		return s.deleteJobs(ctx, jobs)

	case req.ParentURL != "" && req.DeleteAll:
		ref, err := normalizeURL(req.ParentURL)
		if err != nil {
			return 0, err
		}
		jobs, err := s.repo.ListBySourceRefPrefix(ctx, ref)
		if err != nil {
			return 0, err
		}
		n, err := s.deleteJobs(ctx, jobs)
		if err != nil {
			return n, err
		}
		// also catch chunks whose job row is already gone
		return n, s.chunkStore.DeleteBySourceRef(ctx, ref)

	default:
		return 0, kberr.Validation("one of job_id, url, or parent_url with delete_all is required")
	}
}

// DeleteBySourceRef removes every job for ref, optionally treating ref as a
// prefix. Used when an exclusion rule lands.
func (s *Service) DeleteBySourceRef(ctx context.Context, ref string, prefix bool) (int, error) {
	var (
		jobs []Job
		err  error
	)
	if prefix {
		jobs, err = s.repo.ListBySourceRefPrefix(ctx, ref)
	} else {
		jobs, err = s.repo.ListBySourceRef(ctx, ref)
	}
	if err != nil {
		return 0, err
	}
	return s.deleteJobs(ctx, jobs)
}

func (s *Service) deleteJobs(ctx context.Context, jobs []Job) (int, error) {
	for i, j := range jobs {
		if err := s.deleteJob(ctx, j.ID); err != nil {
			return i, err
		}
	}
	return len(jobs), nil
}

func (s *Service) deleteJob(ctx context.Context, id uuid.UUID) error {
	if err := s.chunkStore.DeleteByJob(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// Resubmit re-queues a failed job. Bot-protected jobs stay terminal; the site
// will block the retry just the same.
func (s *Service) Resubmit(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status == StatusBotProtected {
		return nil, kberr.BotProtected(j.SourceRef)
	}
	if j.Status == StatusProcessing {
		return nil, kberr.Conflict("job is still being processed")
	}
	if !CanTransition(j.Status, StatusQueued) {
		return nil, kberr.Validation("only failed jobs can be resubmitted")
	}
	if j.AttemptCount >= s.maxAttempts {
		return nil, kberr.Validation("retry limit reached for this job")
	}

	j.Status = StatusQueued
	j.ErrorKind = ""
	j.ErrorMessage = ""
	j.UserMessage = ""
	if err := s.repo.Update(ctx, j); err != nil {
		return nil, err
	}
	s.kick(ctx, j)
	return j, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", kberr.Validation("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", kberr.Validation("url must be absolute http or https")
	}
	u.Fragment = ""
	return u.String(), nil
}
