package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidJob marks a message that cannot be turned into a Job. Consumers
// drop such messages.
var ErrInvalidJob = errors.New("invalid ingestion job")

// Job asks a worker to ingest one repository for one project.
type Job struct {
	ProjectID   string `json:"projectId"`
	RepoURL     string `json:"repoUrl"`
	GithubToken string `json:"githubToken,omitempty"`
}

// Delivery is a received job plus what the transport needs to acknowledge it.
type Delivery struct {
	Job Job
	// Err is set instead of Job when the message could not be decoded.
	Err error
	raw string
}

// Publisher enqueues jobs.
type Publisher interface {
	Enqueue(ctx context.Context, job Job) error
}

// Consumer receives jobs. Receive blocks until a message arrives or ctx is
// done. Ack must be called once the delivery reached a terminal outcome.
type Consumer interface {
	Receive(ctx context.Context) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
}

// Encode validates job and serializes it to the wire format.
func Encode(job Job) ([]byte, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(job)
}

// Decode parses a wire message.
func Decode(b []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Validate checks the required fields.
func (j Job) Validate() error {
	if strings.TrimSpace(j.ProjectID) == "" {
		return fmt.Errorf("%w: missing projectId", ErrInvalidJob)
	}
	if strings.TrimSpace(j.RepoURL) == "" {
		return fmt.Errorf("%w: missing repoUrl", ErrInvalidJob)
	}
	return nil
}

func newDelivery(raw string) Delivery {
	job, err := Decode([]byte(raw))
	return Delivery{Job: job, Err: err, raw: raw}
}
