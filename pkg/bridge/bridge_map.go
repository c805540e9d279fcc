package bridge

import (
	"hash/fnv"
	"sync"
)

// bridgeShardCount количество шардов карты мостов.
// Должно быть степенью 2: индекс шарда берется маской.
const bridgeShardCount = 32

type bridgeShard struct {
	mu      sync.RWMutex
	bridges map[string]*Bridge
}

// bridgeMap потокобезопасная карта id -> мост с шардированием.
// LockBridge участника выполняет поиск на каждом кадре, поэтому чтение
// не должно упираться в один общий мьютекс.
type bridgeMap struct {
	shards [bridgeShardCount]*bridgeShard
}

func newBridgeMap() *bridgeMap {
	m := &bridgeMap{}
	for i := range m.shards {
		m.shards[i] = &bridgeShard{bridges: make(map[string]*Bridge)}
	}
	return m
}

func (m *bridgeMap) shard(id string) *bridgeShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return m.shards[h.Sum32()&(bridgeShardCount-1)]
}

// Set добавляет мост. Возвращает false, если id уже занят.
func (m *bridgeMap) Set(id string, b *Bridge) bool {
	s := m.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bridges[id]; exists {
		return false
	}
	s.bridges[id] = b
	return true
}

// Get возвращает мост по id
func (m *bridgeMap) Get(id string) (*Bridge, bool) {
	s := m.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bridges[id]
	return b, ok
}

// Delete удаляет мост, возвращает true если он был в карте
func (m *bridgeMap) Delete(id string) bool {
	s := m.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.bridges[id]
	if ok {
		delete(s.bridges, id)
	}
	return ok
}

// Count возвращает количество мостов
func (m *bridgeMap) Count() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.bridges)
		s.mu.RUnlock()
	}
	return n
}

// Snapshot возвращает копию списка мостов; вызывающий работает с ней без блокировок карты
func (m *bridgeMap) Snapshot() []*Bridge {
	var out []*Bridge
	for _, s := range m.shards {
		s.mu.RLock()
		for _, b := range s.bridges {
			out = append(out, b)
		}
		s.mu.RUnlock()
	}
	return out
}
