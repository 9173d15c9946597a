package conn

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

const MaxSentence = 8192

var ErrSentenceTooLong = errors.New("sentence too long")

type Conn struct {
	cid      uint64
	tuple    []string
	r        *bufio.Reader
	created  time.Time
	byte_in  uint64
	byte_out uint64
	net.Conn
}

func NewConn(c net.Conn, cid uint64) *Conn {
	sourceip, sourceport, _ := net.SplitHostPort(c.RemoteAddr().String())
	targetip, targetport, _ := net.SplitHostPort(c.LocalAddr().String())

	return &Conn{
		cid:     cid,
		tuple:   []string{sourceip, sourceport, targetip, targetport},
		r:       bufio.NewReaderSize(c, MaxSentence),
		created: time.Now(),
		Conn:    c,
	}
}

func (c *Conn) Cid() uint64 {
	return c.cid
}

func (c *Conn) Peek(n int) ([]byte, error) {
	return c.r.Peek(n)
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	atomic.AddUint64(&c.byte_in, uint64(n))
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	atomic.AddUint64(&c.byte_out, uint64(n))
	return n, err
}

// ReadSentence returns the next line without its line ending. Empty lines are
// skipped. A line longer than MaxSentence is an error and the connection
// should be dropped.
func (c *Conn) ReadSentence() (string, error) {
	for {
		line, err := c.r.ReadSlice('\n')
		atomic.AddUint64(&c.byte_in, uint64(len(line)))
		if err == bufio.ErrBufferFull {
			return "", ErrSentenceTooLong
		}
		s := strings.TrimRight(string(line), "\r\n")
		if err != nil {
			// a final sentence without line ending is still delivered
			if s != "" {
				return s, nil
			}
			return "", err
		}
		if s != "" {
			return s, nil
		}
	}
}

func (c *Conn) Stat() (byte_in uint64, byte_out uint64) {
	return atomic.LoadUint64(&c.byte_in), atomic.LoadUint64(&c.byte_out)
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Uint64("cid", c.cid).Strs("socket", c.tuple)
}
