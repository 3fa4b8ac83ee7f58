// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Task 一个到期执行一次的回调
type Task struct {
	ID       int64
	Execute  time.Time
	Callback func()
	index    int
}

type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*q)
	*q = append(*q, task)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// Manager runs one-shot deadlines from a single ticking goroutine.
type Manager struct {
	queue     taskQueue
	tasks     map[int64]*Task
	mutex     sync.Mutex
	nextID    int64
	tick      time.Duration
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewManager starts a manager checking deadlines every tick.
func NewManager(tick time.Duration) *Manager {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	m := &Manager{
		queue:     make(taskQueue, 0),
		tasks:     make(map[int64]*Task),
		nextID:    1,
		tick:      tick,
		closeChan: make(chan struct{}),
	}
	heap.Init(&m.queue)
	go m.process()
	return m
}

// AddTimer schedules callback after delay and returns its id.
func (m *Manager) AddTimer(delay time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task := &Task{
		ID:       m.nextID,
		Execute:  time.Now().Add(delay),
		Callback: callback,
	}
	m.nextID++

	heap.Push(&m.queue, task)
	m.tasks[task.ID] = task
	return task.ID
}

// Cancel drops a pending timer. It reports false when the timer already
// fired or never existed.
func (m *Manager) Cancel(id int64) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return false
	}
	heap.Remove(&m.queue, task.index)
	delete(m.tasks, id)
	return true
}

// Pending returns the number of timers not yet fired.
func (m *Manager) Pending() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.tasks)
}

// Stop halts the manager; pending timers never fire.
func (m *Manager) Stop() {
	m.closeOnce.Do(func() { close(m.closeChan) })
}

func (m *Manager) due(now time.Time) []*Task {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var fired []*Task
	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			break
		}
		heap.Pop(&m.queue)
		delete(m.tasks, task.ID)
		fired = append(fired, task)
	}
	return fired
}

func (m *Manager) process() {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			for _, task := range m.due(now) {
				go task.Callback()
			}
		case <-m.closeChan:
			return
		}
	}
}
