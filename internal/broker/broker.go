package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/gpsv2/position"
)

const (
	EVENT_PUBLISH_FAILED = "publish_failed"
	EVENT_FLUSH          = "flush"
)

// Publisher delivers one encoded position to an external bus.
type Publisher interface {
	Publish(protocol string, device_id uint64, data []byte) error
	Close()
}

type BrokerConfig struct {
	BufSize  int
	TimerDur time.Duration
}

type message struct {
	protocol  string
	device_id uint64
	data      []byte
}

type buffer struct {
	seq uint64
	t1  time.Time
	buf []message
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]message, 0, len)}
}

// Broker batches positions and hands every batch to its publishers from a
// single goroutine, so Put never waits on the network.
type Broker struct {
	log    log.Logger
	config BrokerConfig
	pubs   []Publisher
	wbuf   buffer
	wlock  sync.Mutex
	flushc chan buffer
	closed bool
	done   chan struct{}
}

func NewBroker(config *BrokerConfig, pubs ...Publisher) *Broker {
	br := &Broker{}
	br.config = *config
	if br.config.BufSize <= 0 {
		br.config.BufSize = 64
	}
	if br.config.TimerDur <= 0 {
		br.config.TimerDur = time.Second
	}
	br.pubs = pubs
	br.log = log.DefaultLogger
	br.log.Context = log.NewContext(nil).Str("module", "broker").Value()
	br.wbuf = new_buffer(0, br.config.BufSize)
	br.flushc = make(chan buffer, 4)
	br.done = make(chan struct{})
	return br
}

func (br *Broker) Run(ctx context.Context) {
	go br.timer_flusher(ctx)
	go func() {
		defer close(br.done)
		for b := range br.flushc {
			br.publish(b)
		}
		for _, p := range br.pubs {
			p.Close()
		}
	}()
}

func (br *Broker) Done() <-chan struct{} {
	return br.done
}

func (br *Broker) timer_flusher(ctx context.Context) {
	ticker := time.NewTicker(br.config.TimerDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			br.wlock.Lock()
			if len(br.wbuf.buf) != 0 {
				br.flush()
			}
			br.closed = true
			close(br.flushc)
			br.wlock.Unlock()
			return
		case t := <-ticker.C:
			br.wlock.Lock()
			if len(br.wbuf.buf) != 0 && t.Sub(br.wbuf.t1) >= br.config.TimerDur {
				br.flush()
			}
			br.wlock.Unlock()
		}
	}
}

func (br *Broker) Put(pos *position.Position) {
	data, err := json.Marshal(pos)
	if err != nil {
		br.log.Error().Err(err).Str("id", pos.ID).Msg("unable to encode position")
		return
	}
	br.wlock.Lock()
	defer br.wlock.Unlock()
	if br.closed {
		return
	}
	if len(br.wbuf.buf) == 0 {
		br.wbuf.t1 = time.Now()
	}
	br.wbuf.buf = append(br.wbuf.buf, message{protocol: pos.Protocol, device_id: pos.DeviceID, data: data})
	if len(br.wbuf.buf) == br.config.BufSize {
		br.flush()
	}
}

func (br *Broker) flush() {
	next := br.wbuf.seq + 1
	select {
	case br.flushc <- br.wbuf:
	default:
		br.log.Warn().Uint64("seq", br.wbuf.seq).Int("count", len(br.wbuf.buf)).Msg("publisher is behind, dropping batch")
	}
	br.wbuf = new_buffer(next, br.config.BufSize)
}

func (br *Broker) publish(b buffer) {
	failed := 0
	for _, m := range b.buf {
		for _, p := range br.pubs {
			if err := p.Publish(m.protocol, m.device_id, m.data); err != nil {
				failed++
				br.log.Debug().Err(err).Str("event", EVENT_PUBLISH_FAILED).Uint64("device_id", m.device_id).Msg("")
			}
		}
	}
	br.log.Debug().Str("event", EVENT_FLUSH).Uint64("seq", b.seq).Int("count", len(b.buf)).Int("failed", failed).Msg("")
}
