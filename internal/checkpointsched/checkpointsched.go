// Package checkpointsched drives periodic BufferPool.Checkpoint calls off
// a cron schedule, dispatched through the task runtime rather than run
// inline on the cron library's own goroutine.
//
// Grounded on the teacher's internal/storage.Scheduler: same
// cron.New(cron.WithSeconds()) construction, same Start/Stop pairing
// (Stop drains the in-flight cron goroutine via the context it returns),
// same log.Printf-based job reporting. The teacher executes SQL inline
// from the cron callback; here the callback only enqueues a checkpoint
// task onto the runtime so a slow checkpoint never blocks cron's internal
// goroutine loop.
package checkpointsched

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vantadb/storecore/internal/bufferpool"
	"github.com/vantadb/storecore/internal/task"
)

// Dispatcher is the subset of *task.Runtime the scheduler needs, accepted
// as an interface so tests can substitute a synchronous stand-in.
type Dispatcher interface {
	ExecuteTaskAsync(queueID int, fn task.TaskFunc, counter *task.SyncCounter)
}

// Scheduler runs BufferPool.Checkpoint on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	pool    *bufferpool.Pool
	rt      Dispatcher
	logger  *log.Logger
	entryID cron.EntryID
}

// New registers a checkpoint job on cronSpec (standard 6-field cron-with-
// seconds syntax, matching the teacher's parser configuration). A nil
// logger defaults to log.Default().
func New(pool *bufferpool.Pool, rt Dispatcher, cronSpec string, logger *log.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		pool:   pool,
		rt:     rt,
		logger: logger,
	}
	id, err := s.cron.AddFunc(cronSpec, s.runCheckpoint)
	if err != nil {
		return nil, err
	}
	s.entryID = id
	return s, nil
}

func (s *Scheduler) runCheckpoint() {
	s.rt.ExecuteTaskAsync(0, func(f *task.Fiber) {
		if err := s.pool.Checkpoint(); err != nil {
			s.logger.Printf("scheduled checkpoint failed: %v", err)
			return
		}
		s.logger.Printf("scheduled checkpoint completed")
	}, nil)
}

// Start begins firing the checkpoint job on its schedule.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits for any in-flight cron invocation to
// return before returning itself.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// NextRun reports when the checkpoint job will next fire; the bool is false
// while no next run is scheduled.
func (s *Scheduler) NextRun() (time.Time, bool) {
	entry := s.cron.Entry(s.entryID)
	return entry.Next, !entry.Next.IsZero()
}
