package mqttclient

import (
	"slices"
	"sync"
)

type flowKey struct {
	dir FlowDirection
	id  uint16
}

// MemoryFlowStore is an in-memory implementation of FlowStore. Flows are
// lost with the process, so sessions only survive reconnects.
type MemoryFlowStore struct {
	mu    sync.RWMutex
	flows map[flowKey]FlowRecord
}

// NewMemoryFlowStore creates an empty store.
func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{flows: make(map[flowKey]FlowRecord)}
}

func (s *MemoryFlowStore) Store(rec FlowRecord) error {
	rec.Publish = slices.Clone(rec.Publish)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flowKey{rec.Direction, rec.PacketID}] = rec
	return nil
}

func (s *MemoryFlowStore) Get(dir FlowDirection, packetID uint16) (FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.flows[flowKey{dir, packetID}]
	if !ok {
		return FlowRecord{}, ErrFlowNotFound
	}
	return rec, nil
}

func (s *MemoryFlowStore) Discard(dir FlowDirection, packetID uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, flowKey{dir, packetID})
	return nil
}

// List returns the records of dir ordered by packet identifier.
func (s *MemoryFlowStore) List(dir FlowDirection) ([]FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []FlowRecord
	for key, rec := range s.flows {
		if key.dir == dir {
			recs = append(recs, rec)
		}
	}
	slices.SortFunc(recs, func(a, b FlowRecord) int {
		return int(a.PacketID) - int(b.PacketID)
	})
	return recs, nil
}

func (s *MemoryFlowStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.flows)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryFlowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}
