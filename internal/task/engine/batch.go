package engine

import "sync"

// Batch is the lock-protected set of jobs accumulated between due events.
//
// Execution never iterates the live slice: Drain swaps it out under the lock,
// so Add/Remove stay safe while a drained batch is running.
type Batch struct {
	mu     sync.Mutex
	jobs   []Job
	nextID int
}

// Add inserts job as-is. Later Accumulate calls continue after its ID.
func (b *Batch) Add(job Job) error {
	if job.Action == nil {
		return ErrNilAction
	}
	b.mu.Lock()
	b.jobs = append(b.jobs, job)
	if job.ID >= b.nextID {
		b.nextID = job.ID + 1
	}
	b.mu.Unlock()
	return nil
}

// Accumulate appends a job with the next batch-scoped ID and returns it.
// A nil action becomes Noop.
func (b *Batch) Accumulate(action Action) Job {
	if action == nil {
		action = Noop
	}
	b.mu.Lock()
	job := Job{ID: b.nextID, Action: action}
	b.nextID++
	b.jobs = append(b.jobs, job)
	b.mu.Unlock()
	return job
}

// Remove drops every pending job with the given ID and reports whether any
// were removed.
func (b *Batch) Remove(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.jobs[:0]
	removed := false
	for _, j := range b.jobs {
		if j.ID == id {
			removed = true
			continue
		}
		kept = append(kept, j)
	}
	// Clear the tail so dropped actions can be collected.
	for i := len(kept); i < len(b.jobs); i++ {
		b.jobs[i] = Job{}
	}
	b.jobs = kept
	return removed
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}

// Drain returns the pending jobs and leaves the batch empty with its ID
// counter reset.
func (b *Batch) Drain() []Job {
	b.mu.Lock()
	jobs := b.jobs
	b.jobs = nil
	b.nextID = 0
	b.mu.Unlock()
	return jobs
}
