package agent

import (
	"bytes"
	"encoding/gob"
	"sync"
	"time"

	"github.com/emirpasic/gods/v2/queues/circularbuffer"

	"github.com/zeusync/behaviortree/internal/core/bt"
)

// DefaultMemorySize bounds the decision history of an agent.
const DefaultMemorySize = 128

// DecisionRecord is the outcome of one agent step.
type DecisionRecord struct {
	Tick     uint64
	Status   bt.Status
	State    bt.TreeState
	Running  []bt.NodeID
	Duration time.Duration
	Time     time.Time
}

// Memory keeps the most recent decisions; the oldest are dropped first.
type Memory struct {
	mu   sync.Mutex
	size int
	buf  *circularbuffer.Queue[DecisionRecord]
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &Memory{size: size, buf: circularbuffer.New[DecisionRecord](size)}
}

func (m *Memory) Append(rec DecisionRecord) {
	m.mu.Lock()
	m.buf.Enqueue(rec)
	m.mu.Unlock()
}

// History returns the kept records, oldest first.
func (m *Memory) History() []DecisionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Values()
}

// Last returns the newest record.
func (m *Memory) Last() (DecisionRecord, bool) {
	h := m.History()
	if len(h) == 0 {
		return DecisionRecord{}, false
	}
	return h[len(h)-1], true
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Size()
}

func (m *Memory) Cap() int { return m.size }

func (m *Memory) Reset() {
	m.mu.Lock()
	m.buf.Clear()
	m.mu.Unlock()
}

func (m *Memory) Save() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m.History()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load replaces the history. Records beyond the capacity keep the newest.
func (m *Memory) Load(data []byte) error {
	var list []DecisionRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&list); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.Clear()
	for _, rec := range list {
		m.buf.Enqueue(rec)
	}
	return nil
}
