package task

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTaskNotFound indicates an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrDuplicateTaskID indicates an id collision on Put.
	ErrDuplicateTaskID = errors.New("duplicate task id")
	// ErrStatusRegression indicates a mutation tried to move a status backward.
	ErrStatusRegression = errors.New("task status cannot move backward")
)

// record pairs a task with its own mutex so unrelated tasks update
// concurrently while readers of one record always see a whole snapshot.
type record struct {
	mu   sync.Mutex
	task Task
}

// Store is a thread-safe in-memory repository of task records keyed by id,
// plus the id generator. Records are never removed during process lifetime;
// all state is lost on restart by design.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record

	idMu      sync.Mutex
	lastStamp int64
	sequence  int

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:   make(map[string]*record),
		lastStamp: 0,
		sequence:  0,
		now:       time.Now,
	}
}

// AllocateID produces a process-unique id of the form
// <prefix>_<unix-seconds>_<sequence>. The sequence counter is scoped to the
// timestamp, so ids stay unique under same-second submission bursts.
func (s *Store) AllocateID(prefix string) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	stamp := s.now().Unix()
	if stamp == s.lastStamp {
		s.sequence++
	} else {
		s.lastStamp = stamp
		s.sequence = 0
	}

	return fmt.Sprintf("%s_%d_%d", prefix, stamp, s.sequence)
}

// Put inserts a new record. Ids are immutable and never reused, so inserting
// an existing id is an error.
func (s *Store) Put(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTaskID, t.ID)
	}

	s.records[t.ID] = &record{task: t.Clone()}

	return nil
}

// Get returns a deep-copied snapshot of the record.
func (s *Store) Get(id string) (Task, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Task{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.task.Clone(), nil
}

// Update applies mutate to the record atomically with respect to concurrent
// readers: a poll racing an update observes either the pre- or post-update
// record in full. Status regressions are rejected.
func (s *Store) Update(id string, mutate func(*Task)) error {
	rec, err := s.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	next := rec.task.Clone()
	mutate(&next)

	if next.Status.rank() < rec.task.Status.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, rec.task.Status, next.Status)
	}

	rec.task = next

	return nil
}

// Len returns the number of records ever created.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

func (s *Store) lookup(id string) (*record, error) {
	s.mu.RLock()
	rec, exists := s.records[id]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	return rec, nil
}
