package stat

import (
	"sort"
	"sync"
	"time"

	"nuha.dev/textgps/internal/gpsv2/device"
)

type counter struct {
	base time.Time
	cnt  uint64
}

// ring of per-minute counters, phead is the newest bucket
type ring struct {
	buf   [60]counter
	phead int
}

func (r *ring) incr(amt uint64, t time.Time, dur time.Duration) {
	f := t.Truncate(dur)
	last := &r.buf[r.phead]
	if f.After(last.base) {
		if last.cnt != 0 {
			r.phead = r.phead + 1
			if r.phead == len(r.buf) {
				r.phead = 0
			}
		}
		r.buf[r.phead].base = f
		r.buf[r.phead].cnt = amt
	} else if f.Equal(last.base) {
		last.cnt = last.cnt + amt
	}
}

func (r *ring) buckets() []Bucket {
	out := make([]Bucket, 0, len(r.buf))
	for i := 0; i < len(r.buf); i++ {
		c := r.buf[(r.phead+1+i)%len(r.buf)]
		if c.cnt != 0 {
			out = append(out, Bucket{Time: c.base, Count: c.cnt})
		}
	}
	return out
}

type time_event struct {
	list [10]time.Time
	idx  int
}

func (l *time_event) log(t time.Time) {
	l.list[l.idx] = t
	l.idx = l.idx + 1
	if l.idx == len(l.list) {
		l.idx = 0
	}
}

func (l *time_event) times() []time.Time {
	out := make([]time.Time, 0, len(l.list))
	for _, t := range l.list {
		if !t.IsZero() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out
}

// Stat counts decode outcomes per protocol so drop rates stay observable.
type Stat struct {
	mu         sync.Mutex
	dur        time.Duration
	created    time.Time
	totals     map[string]map[device.Outcome]uint64
	records    map[string]*ring
	connect    time_event
	disconnect time_event
	open       int64
}

func NewStat() *Stat {
	o := &Stat{}
	o.dur = time.Minute
	o.created = time.Now()
	o.totals = make(map[string]map[device.Outcome]uint64)
	o.records = make(map[string]*ring)
	return o
}

func (s *Stat) Outcome(protocol string, o device.Outcome, t time.Time) {
	s.mu.Lock()
	m, ok := s.totals[protocol]
	if !ok {
		m = make(map[device.Outcome]uint64)
		s.totals[protocol] = m
	}
	m[o]++
	if o == device.Record {
		r, ok := s.records[protocol]
		if !ok {
			r = &ring{}
			s.records[protocol] = r
		}
		r.incr(1, t, s.dur)
	}
	s.mu.Unlock()
}

func (s *Stat) ConnectEv(t time.Time) {
	s.mu.Lock()
	s.connect.log(t)
	s.open++
	s.mu.Unlock()
}

func (s *Stat) DisconnectEv(t time.Time) {
	s.mu.Lock()
	s.disconnect.log(t)
	s.open--
	s.mu.Unlock()
}

type Bucket struct {
	Time  time.Time `json:"time"`
	Count uint64    `json:"count"`
}

type Snapshot struct {
	Created        time.Time                    `json:"created"`
	Connections    int64                        `json:"connections"`
	Outcomes       map[string]map[string]uint64 `json:"outcomes"`
	RecordsMinute  map[string][]Bucket          `json:"records_per_minute"`
	LastConnect    []time.Time                  `json:"last_connect"`
	LastDisconnect []time.Time                  `json:"last_disconnect"`
}

func (s *Stat) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Created:        s.created,
		Connections:    s.open,
		Outcomes:       make(map[string]map[string]uint64, len(s.totals)),
		RecordsMinute:  make(map[string][]Bucket, len(s.records)),
		LastConnect:    s.connect.times(),
		LastDisconnect: s.disconnect.times(),
	}
	for proto, m := range s.totals {
		out := make(map[string]uint64, len(m))
		for o, n := range m {
			out[o.String()] = n
		}
		snap.Outcomes[proto] = out
	}
	for proto, r := range s.records {
		snap.RecordsMinute[proto] = r.buckets()
	}
	return snap
}

// Count returns how many sentences of protocol ended with outcome o.
func (s *Stat) Count(protocol string, o device.Outcome) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[protocol][o]
}
