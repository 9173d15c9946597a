package photo

import (
	"errors"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/util"
)

type State int

const (
	Idle State = iota
	Announced
	Receiving
	Complete
)

func (s State) String() string {
	switch s {
	case Announced:
		return "announced"
	case Receiving:
		return "receiving"
	case Complete:
		return "complete"
	default:
		return "idle"
	}
}

const (
	MaxChunk         = 1024
	DefaultMaxLength = 4 << 20
)

var (
	ErrBadLength     = errors.New("announced photo length out of range")
	ErrNoSession     = errors.New("no photo transfer in progress")
	ErrPhotoMismatch = errors.New("chunk belongs to another photo")
	ErrOverflow      = errors.New("chunk exceeds announced photo length")
)

// Photo is a fully reassembled image ready for storage.
type Photo struct {
	Key      string
	DeviceID uint64
	UniqueID string
	PhotoID  string
	Data     []byte
	Received time.Time
}

func (p *Photo) MarshalObject(e *log.Entry) {
	e.Str("key", p.Key).Uint64("device_id", p.DeviceID).Str("photo_id", p.PhotoID).Int("size", len(p.Data))
}

// Session tracks one in-flight image transfer. It is owned by a single
// connection and must only be touched from that connection's decode loop.
type Session struct {
	DeviceID uint64
	UniqueID string
	PhotoID  string
	Length   int
	Started  time.Time
	buf      []byte
	state    State
}

func (s *Session) State() State {
	return s.state
}

// Offset is the write position, the number of bytes received so far.
func (s *Session) Offset() int {
	return len(s.buf)
}

// NextRequest returns the range the device should send next. Size is zero
// once the photo is complete.
func (s *Session) NextRequest() (offset, size int) {
	offset = len(s.buf)
	size = s.Length - offset
	if size > MaxChunk {
		size = MaxChunk
	}
	return offset, size
}

func (s *Session) Bytes() []byte {
	return s.buf
}

func (s *Session) MarshalObject(e *log.Entry) {
	e.Str("photo_id", s.PhotoID).Str("state", s.state.String()).Int("offset", len(s.buf)).Int("length", s.Length)
}

// Sessions holds the photo transfer of every connection, keyed by connection id.
type Sessions struct {
	mu         sync.Mutex
	list       map[uint64]*Session
	max_length int
}

func NewSessions(max_length int) *Sessions {
	if max_length <= 0 {
		max_length = DefaultMaxLength
	}
	return &Sessions{list: make(map[uint64]*Session), max_length: max_length}
}

// Announce starts a new transfer for cid, dropping any unfinished one.
func (s *Sessions) Announce(cid uint64, device_id uint64, unique_id, photo_id string, length int) (*Session, error) {
	if length <= 0 || length > s.max_length {
		return nil, ErrBadLength
	}
	sess := &Session{
		DeviceID: device_id,
		UniqueID: unique_id,
		PhotoID:  photo_id,
		Length:   length,
		Started:  time.Now().UTC(),
		buf:      make([]byte, 0, length),
		state:    Announced,
	}
	s.mu.Lock()
	s.list[cid] = sess
	s.mu.Unlock()
	return sess, nil
}

// Append adds a chunk to the transfer of cid. When the chunk completes the
// photo, the session is removed and the reassembled photo returned.
func (s *Sessions) Append(cid uint64, photo_id string, data []byte) (*Session, *Photo, error) {
	sess, ok := s.Get(cid)
	if !ok {
		return nil, nil, ErrNoSession
	}
	if sess.PhotoID != photo_id {
		return sess, nil, ErrPhotoMismatch
	}
	if len(sess.buf)+len(data) > sess.Length {
		return sess, nil, ErrOverflow
	}
	sess.buf = append(sess.buf, data...)
	if len(sess.buf) < sess.Length {
		sess.state = Receiving
		return sess, nil, nil
	}
	sess.state = Complete
	s.mu.Lock()
	if s.list[cid] == sess {
		delete(s.list, cid)
	}
	s.mu.Unlock()
	p := &Photo{
		Key:      util.GenUUID(),
		DeviceID: sess.DeviceID,
		UniqueID: sess.UniqueID,
		PhotoID:  sess.PhotoID,
		Data:     sess.buf,
		Received: time.Now().UTC(),
	}
	return sess, p, nil
}

func (s *Sessions) Get(cid uint64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.list[cid]
	return sess, ok
}

// Discard drops the transfer of cid, if any.
func (s *Sessions) Discard(cid uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.list[cid]
	delete(s.list, cid)
	return ok
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}
