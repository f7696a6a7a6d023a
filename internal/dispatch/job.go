package dispatch

import (
	"encoding/json"
	"time"
)

// Job is the extraction work item carried from the workflow to a worker. The
// token correlates the job with the run suspended on its result; cross-job
// ordering is irrelevant because every job carries a unique token.
type Job struct {
	JobID      string    `json:"jobId"`
	RunID      string    `json:"runId"`
	Token      string    `json:"taskToken"`
	Text       string    `json:"text"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// EncodeJob returns the JSON representation of a job.
func EncodeJob(job Job) ([]byte, error) {
	return json.Marshal(job)
}

// DecodeJob parses a JSON payload into a Job.
func DecodeJob(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}
