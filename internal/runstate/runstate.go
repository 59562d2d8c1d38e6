// Package runstate persists per-task watermarks in a local Pebble database.
package runstate

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"
)

// Key prefix for task states: /runstate/{task}
const prefixRunState = "/runstate/"

var ErrClosed = errors.New("run state store is closed")

// State is what a task remembers between runs.
type State struct {
	Watermark int64  `msgpack:"wm"`  // epoch seconds of the newest handled component
	LastRunID string `msgpack:"run"` // id of the run that last advanced the watermark
	UpdatedAt int64  `msgpack:"at"`  // epoch seconds
}

// TaskState pairs a task name with its state.
type TaskState struct {
	Task  string `json:"task"`
	State State  `json:"state"`
}

// Store is a Pebble-backed run state store. Read-modify-write operations
// are serialized.
type Store struct {
	mu     sync.Mutex
	db     *pebble.DB
	closed bool
}

// Open creates or opens the store at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open run state at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Get returns the state of task, or the zero State when the task never ran.
func (s *Store) Get(task string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(task)
}

func (s *Store) get(task string) (State, error) {
	if s.closed {
		return State{}, ErrClosed
	}
	val, closer, err := s.db.Get([]byte(prefixRunState + task))
	if err == pebble.ErrNotFound {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get run state %s: %w", task, err)
	}
	defer closer.Close()

	var st State
	if err := msgpack.Unmarshal(val, &st); err != nil {
		return State{}, fmt.Errorf("decode run state %s: %w", task, err)
	}
	return st, nil
}

// Advance moves the watermark of task forward to watermark. A watermark at
// or below the stored one leaves the state unchanged. The resulting state is
// returned.
func (s *Store) Advance(task string, watermark int64, runID string, at time.Time) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.get(task)
	if err != nil {
		return State{}, err
	}
	if watermark <= st.Watermark {
		return st, nil
	}
	st = State{Watermark: watermark, LastRunID: runID, UpdatedAt: at.Unix()}
	if err := s.put(task, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Reset overwrites the watermark of task, also backwards. Used to replay a
// window deliberately.
func (s *Store) Reset(task string, watermark int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if watermark <= 0 {
		if err := s.db.Delete([]byte(prefixRunState+task), pebble.Sync); err != nil {
			return fmt.Errorf("delete run state %s: %w", task, err)
		}
		return nil
	}
	return s.put(task, State{Watermark: watermark, UpdatedAt: at.Unix()})
}

func (s *Store) put(task string, st State) error {
	val, err := msgpack.Marshal(&st)
	if err != nil {
		return fmt.Errorf("encode run state %s: %w", task, err)
	}
	if err := s.db.Set([]byte(prefixRunState+task), val, pebble.Sync); err != nil {
		return fmt.Errorf("set run state %s: %w", task, err)
	}
	return nil
}

// List returns the state of every task that has one, ordered by task name.
func (s *Store) List() ([]TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	prefix := []byte(prefixRunState)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []TaskState
	for iter.First(); iter.Valid(); iter.Next() {
		var st State
		if err := msgpack.Unmarshal(iter.Value(), &st); err != nil {
			return nil, fmt.Errorf("decode run state %s: %w", iter.Key(), err)
		}
		out = append(out, TaskState{
			Task:  strings.TrimPrefix(string(iter.Key()), prefixRunState),
			State: st,
		})
	}
	return out, iter.Error()
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
