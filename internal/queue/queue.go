package queue

import (
	"fmt"
	"sync"
)

// Queue is the ordered set of jobs. Dispatch order is priority first,
// insertion order within a priority. Safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	jobs []*Job
}

// NewQueue builds a queue pre-loaded with existing jobs.
func NewQueue(jobs []*Job) *Queue {
	q := &Queue{}
	for _, j := range jobs {
		q.Enqueue(j)
	}
	return q
}

// Enqueue inserts the job behind all jobs of equal or higher priority.
func (q *Queue) Enqueue(j *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.insert(j)
}

func (q *Queue) insert(j *Job) {
	at := len(q.jobs)
	for i, existing := range q.jobs {
		if existing.Priority < j.Priority {
			at = i
			break
		}
	}
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[at+1:], q.jobs[at:])
	q.jobs[at] = j
}

// Requeue puts a job back at the very front, ahead of everything.
// Used when an in-flight job has to be retried: it keeps its turn.
func (q *Queue) Requeue(j *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append([]*Job{j}, q.jobs...)
}

// Dequeue removes and returns the next job, or nil when empty.
func (q *Queue) Dequeue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j
}

// Peek returns the next job without removing it, or nil when empty.
func (q *Queue) Peek() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[0]
}

// Remove deletes the job with the given ID or (unique) name.
func (q *Queue) Remove(idOrName string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, j := range q.jobs {
		if j.ID == idOrName || j.Name == idOrName {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return j, nil
		}
	}
	return nil, fmt.Errorf("no queued job %q", idOrName)
}

// Jobs returns a snapshot of the queue in dispatch order.
func (q *Queue) Jobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
