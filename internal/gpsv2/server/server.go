package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	"nuha.dev/textgps/internal/gpsv2/conn"
	"nuha.dev/textgps/internal/gpsv2/device"
	"nuha.dev/textgps/internal/gpsv2/device/fifotrack"
	"nuha.dev/textgps/internal/gpsv2/device/its"
	"nuha.dev/textgps/internal/gpsv2/photo"
	"nuha.dev/textgps/internal/gpsv2/position"
	"nuha.dev/textgps/internal/gpsv2/stat"
	"nuha.dev/textgps/internal/gpsv2/sublist"
	"nuha.dev/textgps/internal/store"
)

const (
	NEW_CONNECTION    string = "new_connection"
	CLOSE_CONNECTION  string = "close_connection"
	DETECT_ERROR      string = "detect_error"
	DECODE_DROP       string = "decode_drop"
	REPLY_ERROR       string = "reply_error"
	PHOTO_SAVED       string = "photo_saved"
	PHOTO_SAVE_ERROR  string = "photo_save_error"
	BROADCAST_ERROR   string = "broadcast_error"
	LISTENER_STOPPED  string = "listener_stopped"
	defaultDetectWait        = 10 * time.Second
)

var (
	ErrUnknownProtocol = errors.New("unknown protocol")
	errTunnelRejected  = errors.New("yamux tunnel rejected")
)

// Devices resolves device identifiers and holds their per-device config.
type Devices interface {
	device.Resolver
	Config(tid uint64) device.DeviceConfig
}

type ServerConfig struct {
	ListenerAddr    string
	YamuxTunnelAddr string
	YamuxToken      string
	// Protocol forces the decoder for every connection, detection is used
	// when empty.
	Protocol       string
	IdleTimeout    time.Duration
	PhotoMaxLength int
}

type Server struct {
	mu          sync.Mutex
	log         log.Logger
	config      *ServerConfig
	cid_counter uint64
	store       store.Store
	misc_store  store.MiscStore
	photo_store store.PhotoStore
	devices     Devices
	sublist     *sublist.SublistMap
	stat        *stat.Stat
	photos      *photo.Sessions
	listener    net.Listener
	wg          sync.WaitGroup
}

type Param struct {
	Store      store.Store
	MiscStore  store.MiscStore
	PhotoStore store.PhotoStore
	Devices    Devices
	Sublist    *sublist.SublistMap
	Stat       *stat.Stat
}

func NewServer(param *Param, config *ServerConfig) *Server {
	s := &Server{}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "gps-server").Value()
	s.config = config
	s.store = param.Store
	s.misc_store = param.MiscStore
	s.photo_store = param.PhotoStore
	s.devices = param.Devices
	s.sublist = param.Sublist
	s.stat = param.Stat
	if s.sublist == nil {
		s.sublist = sublist.NewSublistMap()
	}
	if s.stat == nil {
		s.stat = stat.NewStat()
	}
	s.photos = photo.NewSessions(config.PhotoMaxLength)
	return s
}

func (s *Server) Stat() *stat.Stat {
	return s.stat
}

func (s *Server) Photos() *photo.Sessions {
	return s.photos
}

// Run starts the configured listeners and returns once they are up.
func (s *Server) Run(ctx context.Context) error {
	if s.config.ListenerAddr != "" {
		ln, err := net.Listen("tcp", s.config.ListenerAddr)
		if err != nil {
			return err
		}
		pln := &proxyproto.Listener{Listener: ln}
		s.mu.Lock()
		s.listener = pln
		s.mu.Unlock()
		go s.serve(ctx, pln)
	}
	if s.config.YamuxTunnelAddr != "" {
		go s.runMuxListener(ctx)
	}
	return nil
}

// Addr is the address of the direct listener, nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) serve(ctx context.Context, ln net.Listener) {
	s.log.Info().Msgf("starting gps-server on %s", ln.Addr())
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Error().Err(err).Msg("failed to accept new connection")
			}
			ln.Close()
			s.log.Info().Str("event", LISTENER_STOPPED).Msg("")
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, c)
		}()
	}
}

func (s *Server) nextCid() uint64 {
	return atomic.AddUint64(&s.cid_counter, 1)
}

// detect picks the decoder from the first bytes of the stream.
func detect(c *conn.Conn) (string, error) {
	b, err := c.Peek(2)
	if err != nil && len(b) == 0 {
		return "", err
	}
	if len(b) == 2 && b[0] == '$' && b[1] == '$' {
		return device.PROTOCOL_FIFOTRACK, nil
	}
	return device.PROTOCOL_ITS, nil
}

func (s *Server) newDecoder(protocol string, cid uint64, logger log.Logger) (device.Decoder, error) {
	switch protocol {
	case device.PROTOCOL_FIFOTRACK:
		return fifotrack.NewFifotrack(cid, s.devices, s.photos, logger), nil
	case device.PROTOCOL_ITS:
		return its.NewIts(cid, s.devices, logger), nil
	default:
		return nil, ErrUnknownProtocol
	}
}

// ServeConn runs the decode loop of one device connection until it closes
// or ctx is done.
func (s *Server) ServeConn(ctx context.Context, _c net.Conn) {
	c := conn.NewConn(_c, s.nextCid())
	defer c.Close()
	s.stat.ConnectEv(time.Now())
	defer func() { s.stat.DisconnectEv(time.Now()) }()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-stop:
		}
	}()

	protocol := s.config.Protocol
	if protocol == "" {
		_ = c.SetReadDeadline(time.Now().Add(defaultDetectWait))
		var err error
		protocol, err = detect(c)
		if err != nil {
			s.log.Error().Err(err).Str("event", DETECT_ERROR).EmbedObject(c).Msg("error peeking from connection, will close")
			return
		}
		_ = c.SetReadDeadline(time.Time{})
	}

	logger := s.log
	logger.Context = log.NewContext(nil).Str("module", "gps-server").Uint64("cid", c.Cid()).Str("protocol", protocol).Value()
	dec, err := s.newDecoder(protocol, c.Cid(), logger)
	if err != nil {
		s.log.Error().Err(err).Str("event", DETECT_ERROR).EmbedObject(c).Msg("")
		return
	}
	defer dec.Close()
	s.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Str("protocol", protocol).Msg("")

	for {
		if s.config.IdleTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}
		sentence, err := c.ReadSentence()
		if err != nil {
			in, out := c.Stat()
			ev := s.log.Info().Str("event", CLOSE_CONNECTION).EmbedObject(c).Uint64("byte_in", in).Uint64("byte_out", out)
			if err != io.EOF && ctx.Err() == nil {
				ev = ev.Err(err)
			}
			ev.Msg("")
			return
		}
		res := dec.Decode(sentence)
		s.stat.Outcome(protocol, res.Outcome, time.Now())
		for _, reply := range res.Replies {
			if _, err := c.Write(reply); err != nil {
				s.log.Error().Err(err).Str("event", REPLY_ERROR).EmbedObject(c).Msg("")
				return
			}
		}
		switch res.Outcome {
		case device.Record:
			s.dispatch(res.Position)
		case device.Malformed, device.Mismatch, device.UnknownDevice:
			logger.Debug().Str("event", DECODE_DROP).EmbedObject(&res).Str("sentence", sentence).Msg("")
		}
		if res.Photo != nil {
			s.wg.Add(1)
			go s.savePhoto(res.Photo)
		}
	}
}

func (s *Server) dispatch(pos *position.Position) {
	conf := s.devices.Config(pos.DeviceID)
	logger := s.log
	logger.Level = log.ParseLevel(conf.LogLevel)
	logger.Debug().EmbedObject(pos).Msg("position")
	if conf.Store && s.store != nil {
		s.store.Put(pos)
	}
	if alarm, ok := pos.Attributes[position.KEY_ALARM].(string); ok && s.misc_store != nil {
		s.misc_store.SaveEvent(pos.DeviceID, position.KEY_ALARM, alarm, pos.DeviceTime)
	}
	if conf.Broadcast {
		if l, ok := s.sublist.GetSublist(pos.DeviceID, false); ok {
			if err := l.SendPosition(pos); err != nil {
				s.log.Error().Err(err).Str("event", BROADCAST_ERROR).Uint64("device_id", pos.DeviceID).Msg("")
			}
		}
	}
}

func (s *Server) savePhoto(p *photo.Photo) {
	defer s.wg.Done()
	if s.photo_store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	id, err := s.photo_store.SavePhoto(ctx, p)
	if err != nil {
		s.log.Error().Err(err).Str("event", PHOTO_SAVE_ERROR).EmbedObject(p).Msg("")
		return
	}
	s.log.Info().Str("event", PHOTO_SAVED).EmbedObject(p).Uint64("photo", id).Msg("")
}
