package dispatcher

import (
	"context"
	"sync"

	"github.com/mkarls/showcased/telemetry"
	"github.com/mkarls/showcased/types"
)

// scheduler runs event handling on a fixed number of workers while
// keeping all events for one user on a single lane. Events for the same
// user are chained through the active map and handed worker-to-worker
// in order; events for different users run concurrently.
type scheduler struct {
	workers  int
	maxQueue int

	do func(context.Context, *types.Event)

	feeder chan *userTask
	out    chan struct{}

	mu     sync.Mutex
	active map[string][]*userTask

	logger *telemetry.Logger
}

type userTask struct {
	userID  string
	evt     *types.Event
	control string
}

func newScheduler(workers, maxQueue int, logger *telemetry.Logger, do func(context.Context, *types.Event)) *scheduler {
	s := &scheduler{
		workers:  workers,
		maxQueue: maxQueue,
		do:       do,
		feeder:   make(chan *userTask, maxQueue),
		out:      make(chan struct{}),
		active:   make(map[string][]*userTask),
		logger:   logger,
	}

	for i := 0; i < workers; i++ {
		go s.worker()
	}

	return s
}

// addWork enqueues an event on its user's lane. If the user already has
// an in-flight or queued event, the new one is appended to that lane and
// will be picked up by whichever worker drains it.
func (s *scheduler) addWork(ctx context.Context, userID string, evt *types.Event) error {
	t := &userTask{userID: userID, evt: evt}

	s.mu.Lock()
	lane, ok := s.active[userID]
	if ok {
		s.active[userID] = append(lane, t)
		s.mu.Unlock()
		return nil
	}
	s.active[userID] = []*userTask{}
	s.mu.Unlock()

	select {
	case s.feeder <- t:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.active, userID)
		s.mu.Unlock()
		return ctx.Err()
	}
}

// shutdown stops all workers after they finish their current lanes
func (s *scheduler) shutdown() {
	for i := 0; i < s.workers; i++ {
		s.feeder <- &userTask{control: "stop"}
	}
	close(s.feeder)
	for i := 0; i < s.workers; i++ {
		<-s.out
	}
}

func (s *scheduler) worker() {
	for work := range s.feeder {
		for work != nil {
			if work.control == "stop" {
				s.out <- struct{}{}
				return
			}

			s.do(context.Background(), work.evt)

			s.mu.Lock()
			lane, ok := s.active[work.userID]
			if !ok {
				s.logger.Error().Str("user_id", work.userID).Msg("worker finished a task with no active lane")
			}
			if len(lane) == 0 {
				delete(s.active, work.userID)
				work = nil
			} else {
				work = lane[0]
				s.active[work.userID] = lane[1:]
			}
			s.mu.Unlock()
		}
	}
}
