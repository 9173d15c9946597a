package pgstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/gpsv2/position"
)

var columns = []string{
	"id", "device_id", "protocol", "unique_id", "device_time", "server_time", "valid",
	"latitude", "longitude", "altitude", "speed", "course", "network", "attributes",
}

type Store struct {
	config *StoreConfig
	wlock  sync.Mutex
	wbuf   buffer
	flushc chan buffer
	closed bool
	done   chan struct{}
	dbp    *pgxpool.Pool
	log    log.Logger
	table  string
}

type StoreConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

type buffer struct {
	seq uint64
	t1  time.Time
	t2  time.Time
	buf [][]interface{}
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([][]interface{}, 0, len)}
}

func NewStore(db *pgxpool.Pool, table string, config *StoreConfig) *Store {
	o := &Store{}
	o.config = config
	o.table = table
	o.dbp = db
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	o.wbuf = new_buffer(0, o.config.BufSize)
	o.flushc = make(chan buffer, 4)
	o.done = make(chan struct{})
	return o
}

func (st *Store) Run(ctx context.Context) {
	go st.timer_flusher(ctx)
	go st.handle()
}

func (st *Store) timer_flusher(ctx context.Context) {
	ticker := time.NewTicker(st.config.TickerDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 {
				st.flush()
			}
			close(st.flushc)
			st.closed = true
			st.wlock.Unlock()
			return
		case t := <-ticker.C:
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) > st.config.MaxAgeFlush {
				st.flush()
			}
			st.wlock.Unlock()
		}
	}
}

// Done is closed once every buffered row has been written after shutdown.
func (st *Store) Done() <-chan struct{} {
	return st.done
}

func row(pos *position.Position) []interface{} {
	var network interface{}
	if pos.Network != nil {
		d, _ := json.Marshal(pos.Network)
		network = d
	}
	attributes, _ := json.Marshal(pos.Attributes)
	return []interface{}{
		pos.ID, int64(pos.DeviceID), pos.Protocol, pos.UniqueID, pos.DeviceTime, pos.ServerTime, pos.Valid,
		pos.Latitude, pos.Longitude, pos.Altitude, pos.Speed, pos.Course, network, attributes,
	}
}

func (st *Store) Put(pos *position.Position) {
	r := row(pos)
	st.wlock.Lock()
	if st.closed {
		st.wlock.Unlock()
		return
	}
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = time.Now().UTC()
	}
	st.wbuf.buf = append(st.wbuf.buf, r)
	if len(st.wbuf.buf) >= st.config.BufSize {
		st.flush()
	}
	st.wlock.Unlock()
}

// flush hands the write buffer to the writer, wlock must be held.
func (st *Store) flush() {
	next := st.wbuf.seq + 1
	st.wbuf.t2 = time.Now().UTC()
	select {
	case st.flushc <- st.wbuf:
	default:
		st.log.Error().Uint64("seq", st.wbuf.seq).Int("length", len(st.wbuf.buf)).Msg("writer is behind, dropping buffer")
	}
	st.wbuf = new_buffer(next, st.config.BufSize)
}

func (st *Store) handle() {
	defer close(st.done)
	st.log.Info().Msg("starting flusher task")
	for buf := range st.flushc {
		t1 := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := st.dbp.CopyFrom(ctx,
			pgx.Identifier{st.table},
			columns,
			pgx.CopyFromRows(buf.buf))
		cancel()
		if err != nil {
			st.log.Error().Err(err).Uint64("seq", buf.seq).Msg("flush error")
		} else {
			st.log.Debug().Str("action", "flush").Int("length", len(buf.buf)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
		}
	}
}
