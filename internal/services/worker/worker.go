// Package worker runs document AI jobs on a fixed pool of goroutines.
//
// Go Pattern: a buffered channel is the job queue. HTTP handlers Submit
// without blocking (a full queue is reported back as an error), N workers
// range over the channel, and Stop closes it and waits on a WaitGroup so
// queued jobs drain before the process exits.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/docai"
)

// JobType identifies what kind of work a job represents.
type JobType string

const (
	JobDocAI JobType = "doc_ai"
)

// ErrQueueFull is returned by Submit when the buffer is full.
var ErrQueueFull = fmt.Errorf("job queue is full; try again later")

// Job represents a unit of work to be processed by a worker.
type Job struct {
	ID        string // The database record ID
	Type      JobType
	CreatedAt time.Time
}

// Store loads and saves job records. *database.DB satisfies it.
type Store interface {
	GetDocAIJob(ctx context.Context, id string) (*models.DocAIJob, error)
	UpdateDocAIJob(ctx context.Context, j *models.DocAIJob) error
}

// AI is the model client. *docai.Service satisfies it.
type AI interface {
	ExtractTables(ctx context.Context, text string) ([]docai.Table, error)
	CleanText(ctx context.Context, text string) (string, error)
	Model() string
}

// Notifier receives job completion events. *webhook.Service satisfies it.
type Notifier interface {
	NotifyEvent(ctx context.Context, userID, event string, data interface{})
}

// Pool manages a pool of worker goroutines.
type Pool struct {
	jobs     chan Job
	workers  int
	store    Store
	ai       AI
	notifier Notifier

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a new worker pool. notifier may be nil.
func NewPool(workers, queueSize int, store Store, ai AI, notifier Notifier) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:     make(chan Job, queueSize),
		workers:  workers,
		store:    store,
		ai:       ai,
		notifier: notifier,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	log.Printf("🚀 Starting %d background workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop closes the queue, lets workers drain it and waits for them. Submit
// must not be called after Stop.
func (p *Pool) Stop() {
	log.Println("⏹️  Stopping workers...")
	close(p.jobs)
	p.wg.Wait()
	p.cancel()
	log.Println("✅ All workers stopped")
}

// Submit adds a job to the queue without blocking.
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		log.Printf("📥 Job queued: %s (type: %s)", job.ID, job.Type)
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueSize returns the current number of jobs in the queue.
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// WorkerCount returns the number of workers.
func (p *Pool) WorkerCount() int {
	return p.workers
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		log.Printf("👷 Worker %d processing job: %s (type: %s)", id, job.ID, job.Type)

		var err error
		switch job.Type {
		case JobDocAI:
			err = p.processDocAI(job)
		default:
			err = fmt.Errorf("unknown job type: %s", job.Type)
		}

		if err != nil {
			log.Printf("❌ Worker %d: job %s failed: %v", id, job.ID, err)
		} else {
			log.Printf("✅ Worker %d: job %s completed", id, job.ID)
		}
	}
}

// processDocAI runs one AI job and records its result or failure.
func (p *Pool) processDocAI(job Job) error {
	ctx := p.ctx

	j, err := p.store.GetDocAIJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	j.Status = models.StatusProcessing
	j.ModelUsed = p.ai.Model()
	if err := p.store.UpdateDocAIJob(ctx, j); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	var result interface{}
	switch j.Task {
	case models.TaskExtractTables:
		result, err = p.ai.ExtractTables(ctx, j.SourceText)
	case models.TaskOCRCleanup:
		var text string
		text, err = p.ai.CleanText(ctx, j.SourceText)
		result = map[string]string{"text": text}
	default:
		err = fmt.Errorf("unknown task %q", j.Task)
	}

	if err == nil {
		j.Result, err = json.Marshal(result)
	}
	if err != nil {
		j.Status = models.StatusFailed
		j.ErrorMessage = err.Error()
		j.Result = nil
		if saveErr := p.store.UpdateDocAIJob(ctx, j); saveErr != nil {
			log.Printf("⚠️  Failed to save failed job %s: %v", j.ID, saveErr)
		}
		p.notify(j, models.EventDocAIFailed)
		return fmt.Errorf("%s failed: %w", j.Task, err)
	}

	j.Status = models.StatusCompleted
	if err := p.store.UpdateDocAIJob(ctx, j); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	p.notify(j, models.EventDocAICompleted)
	return nil
}

func (p *Pool) notify(j *models.DocAIJob, event string) {
	if p.notifier == nil {
		return
	}
	p.notifier.NotifyEvent(p.ctx, j.UserID, event, map[string]interface{}{
		"job_id": j.ID,
		"task":   j.Task,
		"status": j.Status,
	})
}
