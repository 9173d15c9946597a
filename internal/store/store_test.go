package store

import (
	"testing"

	"nuha.dev/textgps/internal/gpsv2/position"
)

type countStore struct {
	n int
}

func (c *countStore) Put(pos *position.Position) {
	c.n++
}

func TestStoresFanOut(t *testing.T) {
	a, b := &countStore{}, &countStore{}
	s := Stores{a, b}
	s.Put(position.New("its", 1, "x"))
	if a.n != 1 || b.n != 1 {
		t.Errorf("got %d %d", a.n, b.n)
	}
}
