package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/jwestbrook/imageflow/internal/config"
	"github.com/jwestbrook/imageflow/internal/database"
	"github.com/jwestbrook/imageflow/internal/imageproc"
	"github.com/jwestbrook/imageflow/internal/model"
	"github.com/jwestbrook/imageflow/internal/queue"
	"github.com/jwestbrook/imageflow/internal/storage"
)

// dequeueTimeout bounds how long a worker blocks on an empty queue
// before re-checking for shutdown.
const dequeueTimeout = 2 * time.Second

// Pool executes transform jobs off the request path. Workers and
// request handlers communicate only through the metadata repository and
// the queue, never through shared in-process state.
type Pool struct {
	DB    database.Database
	Store storage.Storage
	Queue queue.Queue
	Cfg   *config.Config
}

// Run recovers unfinished jobs, then blocks executing jobs on
// Cfg.WorkerCount workers until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	ids, err := p.DB.RecoverJobs()
	if err != nil {
		slog.Error("job recovery failed", "error", err)
	}
	for _, id := range ids {
		if err := p.Queue.Enqueue(ctx, id); err != nil {
			slog.Error("re-enqueue recovered job failed", "image_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		slog.Info("recovered unfinished jobs", "count", len(ids))
	}

	var wg sync.WaitGroup
	for i := 0; i < p.Cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		imageID, err := p.Queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		p.process(ctx, imageID)
	}
}

// process drives one job to a terminal state or back onto the queue.
func (p *Pool) process(ctx context.Context, imageID string) {
	// Exclusive claim: at most one worker gets the job even if the same
	// ID was ever enqueued twice.
	job, claimed, err := p.DB.ClaimJob(imageID)
	if err != nil {
		slog.Error("claim failed", "image_id", imageID, "error", err)
		return
	}
	if !claimed {
		// Already running elsewhere, finished, or deleted with its image.
		return
	}

	img, err := p.DB.GetImageByID(imageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Deleted between claim and load; nothing to do.
			return
		}
		p.retryOrFail(job, err)
		return
	}

	original, err := p.Store.Get(ctx, img.OriginalKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The original is gone for good; retrying cannot help.
			p.fail(imageID, err)
			return
		}
		p.retryOrFail(job, err)
		return
	}

	res, err := imageproc.Apply(original, job.Request)
	if err != nil {
		if imageproc.IsDeterministic(err) {
			p.fail(imageID, err)
			return
		}
		p.retryOrFail(job, err)
		return
	}

	processedKey := "processed/" + imageID + path.Ext(img.OriginalKey)
	processedURL, err := p.Store.Put(ctx, processedKey, imageproc.ContentType(res.Format), res.Data)
	if err != nil {
		p.retryOrFail(job, err)
		return
	}

	// Blob strictly before metadata: a reader must never observe
	// "completed" with a dangling processed URL.
	changed, err := p.DB.CompleteImage(imageID, processedKey, processedURL, res.Width, res.Height)
	if err != nil {
		p.retryOrFail(job, err)
		return
	}
	if !changed {
		// Image deleted mid-flight. Deletion is authoritative; discard
		// the result instead of resurrecting the record.
		if err := p.Store.Delete(ctx, processedKey); err != nil {
			slog.Error("discard orphaned processed blob failed", "key", processedKey, "error", err)
		}
		slog.Info("job result discarded, image deleted", "image_id", imageID)
		return
	}

	slog.Info("job completed", "image_id", imageID,
		"width", res.Width, "height", res.Height, "attempts", job.Attempts)
}

// fail moves the image to the terminal failed state.
func (p *Pool) fail(imageID string, cause error) {
	slog.Warn("job failed terminally", "image_id", imageID, "error", cause)
	if _, err := p.DB.FailImage(imageID); err != nil {
		slog.Error("mark failed", "image_id", imageID, "error", err)
	}
}

// retryOrFail requeues a transiently-failed job with exponential
// backoff, or fails it once the attempt cap is exhausted.
func (p *Pool) retryOrFail(job *model.Job, cause error) {
	attempt := job.Attempts + 1
	if attempt >= p.Cfg.MaxJobAttempts {
		p.fail(job.ImageID, fmt.Errorf("gave up after %d attempts: %w", attempt, cause))
		return
	}

	if err := p.DB.ReleaseJob(job.ImageID); err != nil {
		slog.Error("release job", "image_id", job.ImageID, "error", err)
		return
	}

	delay := p.backoff(attempt)
	slog.Warn("job will retry", "image_id", job.ImageID,
		"attempt", attempt, "delay", delay, "error", cause)

	imageID := job.ImageID
	time.AfterFunc(delay, func() {
		if err := p.Queue.Enqueue(context.Background(), imageID); err != nil {
			slog.Error("re-enqueue failed", "image_id", imageID, "error", err)
		}
	})
}

func (p *Pool) backoff(attempt int) time.Duration {
	d := p.Cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cfg.BackoffMax {
			return p.Cfg.BackoffMax
		}
	}
	if d > p.Cfg.BackoffMax {
		return p.Cfg.BackoffMax
	}
	return d
}
