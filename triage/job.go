package triage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Job asks the analysis workers to triage one top-level object
type Job struct {
	ID         string    `msgpack:"id"`
	ObjectType string    `msgpack:"object_type"`
	ObjectID   string    `msgpack:"object_id"`
	Analyst    string    `msgpack:"analyst"`
	Enqueued   time.Time `msgpack:"enqueued"`
}

// NewJob creates a job with a fresh ID
func NewJob(objectType, objectID, analyst string, now time.Time) Job {
	return Job{
		ID:         uuid.New().String(),
		ObjectType: objectType,
		ObjectID:   objectID,
		Analyst:    analyst,
		Enqueued:   now.UTC(),
	}
}

// Encode serializes the job for the queue
func (j Job) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(&j)
	if err != nil {
		return nil, fmt.Errorf("failed to encode triage job %s: %w", j.ID, err)
	}
	return data, nil
}

// DecodeJob parses a queued job
func DecodeJob(data []byte) (Job, error) {
	var j Job
	if err := msgpack.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("failed to decode triage job: %w", err)
	}
	if j.ObjectType == "" || j.ObjectID == "" {
		return Job{}, ErrMalformedJob
	}
	return j, nil
}
