package models

import "time"

// Status is the lifecycle state of an analysis job.
type Status string

const (
	JobStatusPending    Status = "pending"
	JobStatusProcessing Status = "processing"
	JobStatusCompleted  Status = "completed"
	JobStatusFailed     Status = "failed"
)

var validTransitions = map[Status][]Status{
	JobStatusPending:    {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid reports whether s is one of the four known statuses.
func (s Status) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is an edge of
// pending -> processing -> {completed, failed}.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Attachment is one file blob submitted with a case.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// Turn is one message of a prior conversation, owned by the caller and
// resubmitted with every request.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Payload is the immutable input of a job.
type Payload struct {
	Prompt      string       `json:"prompt"`
	Attachments []Attachment `json:"attachments,omitempty"`
	History     []Turn       `json:"history,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate a stored payload.
func (p Payload) Clone() Payload {
	out := Payload{Prompt: p.Prompt}
	if len(p.Attachments) > 0 {
		out.Attachments = make([]Attachment, len(p.Attachments))
		for i, a := range p.Attachments {
			out.Attachments[i] = Attachment{
				Name:      a.Name,
				MediaType: a.MediaType,
				Data:      append([]byte(nil), a.Data...),
			}
		}
	}
	if len(p.History) > 0 {
		out.History = append([]Turn(nil), p.History...)
	}
	return out
}

// Job tracks one async analysis. The API returns its ID on POST /api/v1/jobs;
// the client polls GET /api/v1/jobs/{id} until status is completed or failed.
// Result is set only when completed, Error only when failed.
type Job struct {
	ID          string     `json:"job_id"`
	Status      Status     `json:"status"`
	Payload     Payload    `json:"-"`
	Result      *string    `json:"result,omitempty"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Payload = j.Payload.Clone()
	out.Result = cloneString(j.Result)
	out.Error = cloneString(j.Error)
	out.StartedAt = cloneTime(j.StartedAt)
	out.CompletedAt = cloneTime(j.CompletedAt)
	out.HeartbeatAt = cloneTime(j.HeartbeatAt)
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
