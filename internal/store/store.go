package store

import (
	"context"
	"errors"
	"time"

	"nuha.dev/textgps/internal/gpsv2/photo"
	"nuha.dev/textgps/internal/gpsv2/position"
)

var ErrNotFound = errors.New("not found")

// Store receives decoded positions. Put must not block the decode loop.
type Store interface {
	Put(pos *position.Position)
}

type PhotoStore interface {
	SavePhoto(ctx context.Context, p *photo.Photo) (uint64, error)
	GetPhoto(ctx context.Context, id uint64) (*photo.Photo, error)
}

type MiscStore interface {
	SaveEvent(device_id uint64, event_type string, message string, t time.Time)
}

// Stores fans a position out to several stores.
type Stores []Store

func (s Stores) Put(pos *position.Position) {
	for _, st := range s {
		st.Put(pos)
	}
}
