package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// JobStore keeps job records in memory.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]archiver.JobRecord
	now  func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]archiver.JobRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new record.
func (s *JobStore) CreateJob(_ context.Context, record archiver.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[record.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[record.ID] = record
	return nil
}

// UpdateJobStatus updates the status and counters, stamping start and finish times.
// Terminal records are never moved to another state.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status archiver.JobStatus,
	errText string,
	counters archiver.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return archiver.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now()
	if status == archiver.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.Terminal() {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// RecordDelivery stores the sink's delivery ID.
func (s *JobStore) RecordDelivery(_ context.Context, jobID string, deliveryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return archiver.ErrJobNotFound
	}
	job.DeliveryID = deliveryID
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a record by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (archiver.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return archiver.JobRecord{}, archiver.ErrJobNotFound
	}
	return job, nil
}
