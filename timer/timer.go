package timer

import (
	"container/heap"
	"sync"
	"time"
)

type entry struct {
	id    int64
	at    time.Time
	every time.Duration
	fn    func()
	slot  int // heap position, -1 once popped
}

// schedule is a min-heap on entry.at.
type schedule []*entry

func (s schedule) Len() int           { return len(s) }
func (s schedule) Less(i, j int) bool { return s[i].at.Before(s[j].at) }

func (s schedule) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
	s[i].slot, s[j].slot = i, j
}

func (s *schedule) Push(x any) {
	e := x.(*entry)
	e.slot = len(*s)
	*s = append(*s, e)
}

func (s *schedule) Pop() any {
	last := len(*s) - 1
	e := (*s)[last]
	(*s)[last] = nil
	e.slot = -1
	*s = (*s)[:last]
	return e
}

// TimerManager runs one-shot and repeating callbacks for every room in the
// process. The loop sleeps until the earliest deadline and is woken when a
// sooner one is added. Callbacks run on their own goroutines after the lock
// is released.
type TimerManager struct {
	mu         sync.Mutex
	pending    schedule
	byID       map[int64]*entry
	lastID     int64
	resolution time.Duration
	wake       chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewTimerManager starts the loop. resolution is the shortest sleep, so
// deadlines closer together than that fire in one batch.
func NewTimerManager(resolution time.Duration) *TimerManager {
	if resolution <= 0 {
		resolution = 50 * time.Millisecond
	}
	m := &TimerManager{
		byID:       make(map[int64]*entry),
		resolution: resolution,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	go m.run()
	return m
}

// AddTimer schedules fn after delay; a positive interval repeats it until
// RemoveTimer. The returned id is never reused.
func (m *TimerManager) AddTimer(delay, interval time.Duration, fn func()) int64 {
	m.mu.Lock()
	m.lastID++
	e := &entry{id: m.lastID, at: time.Now().Add(delay), every: interval, fn: fn}
	heap.Push(&m.pending, e)
	m.byID[e.id] = e
	earliest := m.pending[0] == e
	m.mu.Unlock()

	if earliest {
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
	return e.id
}

// RemoveTimer cancels a pending task. It reports false when the task already
// fired or never existed.
func (m *TimerManager) RemoveTimer(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return false
	}
	delete(m.byID, id)
	if e.slot >= 0 {
		heap.Remove(&m.pending, e.slot)
	}
	return true
}

// Pending returns the number of scheduled tasks.
func (m *TimerManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Stop ends the loop; pending tasks never fire.
func (m *TimerManager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *TimerManager) run() {
	sleep := time.NewTimer(m.nextWait(time.Now()))
	defer sleep.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-m.wake:
			if !sleep.Stop() {
				select {
				case <-sleep.C:
				default:
				}
			}
		case now := <-sleep.C:
			for _, fn := range m.collect(now) {
				go fn()
			}
		}
		sleep.Reset(m.nextWait(time.Now()))
	}
}

// nextWait is the time until the earliest deadline, at least one resolution.
func (m *TimerManager) nextWait(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return time.Minute
	}
	return max(m.pending[0].at.Sub(now), m.resolution)
}

// collect pops every task due at now and reschedules repeating ones.
func (m *TimerManager) collect(now time.Time) []func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []func()
	for len(m.pending) > 0 && !m.pending[0].at.After(now) {
		e := heap.Pop(&m.pending).(*entry)
		due = append(due, e.fn)
		if e.every > 0 {
			e.at = now.Add(e.every)
			heap.Push(&m.pending, e)
			continue
		}
		delete(m.byID, e.id)
	}
	return due
}
