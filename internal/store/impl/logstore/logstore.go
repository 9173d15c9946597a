package logstore

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nuha.dev/textgps/internal/gpsv2/photo"
	"nuha.dev/textgps/internal/gpsv2/position"
	"nuha.dev/textgps/internal/store"
)

// LogStore writes positions and events to a log and keeps photos in memory.
// It stands in for a database during development.
type LogStore struct {
	logger zerolog.Logger
	mu     sync.Mutex
	photos map[uint64]*photo.Photo
	seq    uint64
}

func NewStore(w io.Writer) *LogStore {
	return &LogStore{
		logger: zerolog.New(w).With().Timestamp().Str("module", "logstore").Logger(),
		photos: make(map[uint64]*photo.Photo),
	}
}

func (l *LogStore) Put(pos *position.Position) {
	l.logger.Info().Str("id", pos.ID).Str("protocol", pos.Protocol).Uint64("device_id", pos.DeviceID).
		Float64("lon", pos.Longitude).Float64("lat", pos.Latitude).Float64("alt", pos.Altitude).
		Float64("speed", pos.Speed).Time("gpstime", pos.DeviceTime).Fields(pos.Attributes).Msg("position")
}

func (l *LogStore) SaveEvent(device_id uint64, event_type string, message string, t time.Time) {
	l.logger.Info().Uint64("device_id", device_id).Str("event_type", event_type).Str("message", message).Time("event_time", t).Msg("event")
}

func (l *LogStore) SavePhoto(ctx context.Context, p *photo.Photo) (uint64, error) {
	l.mu.Lock()
	l.seq++
	id := l.seq
	l.photos[id] = p
	l.mu.Unlock()
	l.logger.Info().Uint64("id", id).Str("key", p.Key).Uint64("device_id", p.DeviceID).Str("photo_id", p.PhotoID).Int("size", len(p.Data)).Msg("photo")
	return id, nil
}

func (l *LogStore) GetPhoto(ctx context.Context, id uint64) (*photo.Photo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.photos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}
