package sublist

import (
	"encoding/json"
	"sync"

	"nuha.dev/textgps/internal/gpsv2/position"
)

// Subscriber receives encoded positions. Push reports true once the
// subscriber is closed so it can be dropped.
type Subscriber interface {
	Push(sender uint64, d []byte) bool
}

type SublistMap struct {
	mu   sync.Mutex
	list map[uint64]*Sublist
}

type Sublist struct {
	key  uint64
	list map[Subscriber]bool
	data []byte
	mu   sync.Mutex
}

func NewSublistMap() *SublistMap {
	return &SublistMap{list: make(map[uint64]*Sublist)}
}

func (s *SublistMap) GetSublist(key uint64, create bool) (*Sublist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.list[key]
	if ok {
		return l, true
	}
	if !create {
		return nil, false
	}
	l = &Sublist{key: key, list: make(map[Subscriber]bool)}
	s.list[key] = l
	return l, true
}

// Subscribe adds sub and replays the latest position, if any.
func (s *Sublist) Subscribe(sub Subscriber) {
	s.mu.Lock()
	s.list[sub] = true
	if s.data != nil {
		sub.Push(s.key, s.data)
	}
	s.mu.Unlock()
}

func (s *Sublist) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	delete(s.list, sub)
	s.mu.Unlock()
}

func (s *Sublist) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

func (s *Sublist) SendPosition(pos *position.Position) error {
	d, err := EncodePosition(pos)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = d
	for sub := range s.list {
		closed := sub.Push(s.key, d)
		if closed {
			delete(s.list, sub)
		}
	}
	s.mu.Unlock()
	return nil
}

type downstream_type struct {
	DeviceId uint64 `json:"tid"`
	*position.Position
}

func EncodePosition(pos *position.Position) ([]byte, error) {
	return json.Marshal(downstream_type{DeviceId: pos.DeviceID, Position: pos})
}
