package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/gpsv2/photo"
	"nuha.dev/textgps/internal/store"
)

type event struct {
	device_id  uint64
	event_type string
	message    string
	t          time.Time
}

type PgMiscStore struct {
	db     *pgxpool.Pool
	events chan event
	log    log.Logger
}

func NewMiscStore(db *pgxpool.Pool) *PgMiscStore {
	m := PgMiscStore{}
	m.db = db
	m.events = make(chan event, 256)
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "misc_store").Value()
	return &m
}

// Run writes queued events until ctx is done.
func (st *PgMiscStore) Run(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-st.events:
				st.insertEvent(ctx, ev)
			}
		}
	}()
}

// SaveEvent queues the event, it is dropped when the writer is behind.
func (st *PgMiscStore) SaveEvent(device_id uint64, event_type string, message string, t time.Time) {
	select {
	case st.events <- event{device_id: device_id, event_type: event_type, message: message, t: t}:
	default:
		st.log.Warn().Uint64("device_id", device_id).Str("event_type", event_type).Msg("event writer is behind, dropping event")
	}
}

func (st *PgMiscStore) insertEvent(ctx context.Context, ev event) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := st.db.Exec(ctx, `INSERT INTO device_event (device_id,event_type,message,event_time) VALUES ($1,$2,$3,$4)`, int64(ev.device_id), ev.event_type, ev.message, ev.t)
	if err != nil {
		st.log.Error().Err(err).Msg("error saving event")
	}
}

func (st *PgMiscStore) SavePhoto(ctx context.Context, p *photo.Photo) (uint64, error) {
	var id int64
	err := st.db.QueryRow(ctx, `INSERT INTO photo (key,device_id,unique_id,photo_id,data,received_time) VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		p.Key, int64(p.DeviceID), p.UniqueID, p.PhotoID, p.Data, p.Received).Scan(&id)
	if err != nil {
		st.log.Error().Err(err).EmbedObject(p).Msg("error saving photo")
		return 0, err
	}
	return uint64(id), nil
}

func (st *PgMiscStore) GetPhoto(ctx context.Context, id uint64) (*photo.Photo, error) {
	var device_id int64
	p := &photo.Photo{}
	err := st.db.QueryRow(ctx, `SELECT key,device_id,unique_id,photo_id,data,received_time FROM photo WHERE id = $1`, int64(id)).
		Scan(&p.Key, &device_id, &p.UniqueID, &p.PhotoID, &p.Data, &p.Received)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	p.DeviceID = uint64(device_id)
	return p, nil
}
