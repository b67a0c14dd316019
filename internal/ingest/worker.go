// Package ingest pushes applicant documents into their retrieval
// partition so the verifier can search them during the interview.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/veristep/viva/internal/retrieval"
	"github.com/veristep/viva/internal/storage"
)

// JobType is the queue type processed by this worker.
const JobType = "document_upload"

const defaultConcurrency = 3

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	ResetStaleJobs() (int, error)
}

// DocumentIndexer pushes one document into a partition.
type DocumentIndexer interface {
	Index(ctx context.Context, doc retrieval.Document) error
}

// UploadPayload is the JSON body of a document_upload job.
type UploadPayload struct {
	SessionID string       `json:"session_id"`
	Partition string       `json:"partition"`
	Documents []UploadFile `json:"documents"`
}

// UploadFile names one file on disk and the identity it gets in the
// partition. InternalName is the key verification filters match on.
type UploadFile struct {
	InternalName string `json:"internal_name"`
	FriendlyName string `json:"friendly_name"`
	Path         string `json:"path"`
}

// Worker processes document_upload jobs from the SQLite job queue.
type Worker struct {
	store       JobStore
	indexer     DocumentIndexer
	poll        time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, indexer DocumentIndexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:       store,
		indexer:     indexer,
		poll:        pollInterval,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled. Jobs a previous process
// claimed but never finished are requeued before polling starts.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.ResetStaleJobs(); err != nil {
		w.logger.Error("requeueing interrupted jobs failed", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted jobs", "count", n)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single document_upload job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload UploadPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.Partition == "" {
		return fmt.Errorf("job %s has no target partition", job.ID)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, file := range payload.Documents {
		g.Go(func() error {
			text, err := ExtractText(file.Path)
			if err != nil {
				return fmt.Errorf("extracting %s: %w", file.InternalName, err)
			}

			doc := retrieval.Document{
				Partition: payload.Partition,
				Name:      file.InternalName,
				Content:   text,
				Metadata: map[string]string{
					"documentInternalName": file.InternalName,
					"documentType":         file.FriendlyName,
				},
			}
			if err := w.indexer.Index(ctx, doc); err != nil {
				return fmt.Errorf("indexing %s: %w", file.InternalName, err)
			}

			w.logger.Info("document indexed",
				"session_id", payload.SessionID,
				"partition", payload.Partition,
				"document", file.InternalName)
			return nil
		})
	}

	return g.Wait()
}

// ExtractText reads a document from disk as plain text. PDF files are
// parsed; anything else is treated as already-plain text.
func ExtractText(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDF(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return string(data), nil
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", fmt.Errorf("pdf %s contains no extractable text", filepath.Base(path))
	}
	return text, nil
}
