package webstream

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nuha.dev/textgps/internal/gpsv2/sublist"
)

const (
	CMD_ADDSUB    = "ADDSUB"
	CMD_DELSUB    = "DELSUB"
	defaultMaxSub = 5
)

var ErrTooManySub = errors.New("too many subscription")

type WebStreamConfig struct {
	MaxSubscription int
}

// WebstreamServer streams live positions over websocket. The first message
// of a client is its api key, after that "ADDSUB 1,2" and "DELSUB 1" manage
// the tracker ids it receives.
type WebstreamServer struct {
	log        log.Logger
	config     WebStreamConfig
	check_key  func(string) bool
	sublistmap *sublist.SublistMap
}

func NewWebstream(sublistmap *sublist.SublistMap, check_key func(string) bool, config WebStreamConfig) *WebstreamServer {
	o := &WebstreamServer{config: config}
	if o.config.MaxSubscription <= 0 {
		o.config.MaxSubscription = defaultMaxSub
	}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "websocket").Value()
	o.check_key = check_key
	o.sublistmap = sublistmap
	return o
}

func (ws *WebstreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.log.Error().Err(err).Msg("Error while upgrading websocket")
		return
	}
	readCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	_, msg, err := c.Read(readCtx)
	cancel()
	if err != nil {
		ws.log.Error().Err(err).Msg("Error while reading api key")
		c.Close(websocket.StatusPolicyViolation, "missing api key")
		return
	}
	if !ws.check_key(string(msg)) {
		ws.log.Info().Str("remote", r.RemoteAddr).Msg("invalid websocket api key")
		c.Close(websocket.StatusPolicyViolation, "invalid api key")
		return
	}

	wc := &WebstreamClient{srv: ws, c: c, log: ws.log}
	wc.buf = make([][]byte, 0, 10)
	wc.wake = make(chan struct{}, 1)
	wc.sublist = make(map[uint64]*sublist.Sublist)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	wc.wg.Add(2)
	go wc.writeLoop(ctx, cancel)
	go wc.readloop(ctx, cancel)
	wc.wg.Wait()
	wc.unsubscribeAll()
	wc.lock.Lock()
	err = wc.err
	wc.lock.Unlock()
	if err == ErrTooManySub {
		c.Close(websocket.StatusPolicyViolation, err.Error())
	} else {
		c.Close(websocket.StatusNormalClosure, "")
	}
}

type WebstreamClient struct {
	lock    sync.Mutex
	wg      sync.WaitGroup
	srv     *WebstreamServer
	c       *websocket.Conn
	log     log.Logger
	closed  bool
	err     error
	buf     [][]byte
	wake    chan struct{}
	sublist map[uint64]*sublist.Sublist
}

func (wc *WebstreamClient) closeErr(err error) {
	if !wc.closed {
		wc.closed = true
		wc.err = err
	}
}

func parseIds(msg string) []uint64 {
	ids := make([]uint64, 0)
	for _, v := range strings.Split(msg, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (wc *WebstreamClient) readloop(ctx context.Context, cancel context.CancelFunc) {
	defer wc.wg.Done()
	defer cancel()
	for {
		_, data, err := wc.c.Read(ctx)
		if err != nil {
			wc.lock.Lock()
			wc.closeErr(err)
			wc.lock.Unlock()
			return
		}
		msg := string(data)
		if len(msg) < 7 {
			wc.log.Debug().Str("msg", msg).Msg("ignoring short message")
			continue
		}
		switch msg[:6] {
		case CMD_ADDSUB:
			ids := parseIds(msg[7:])
			wc.log.Debug().Str("addsub", msg[7:]).Msg("receive add subscription message")
			for _, id := range ids {
				if _, ok := wc.sublist[id]; ok {
					wc.log.Warn().Msgf("already susbcribed tracker_id : %d", id)
					continue
				}
				if len(wc.sublist) >= wc.srv.config.MaxSubscription {
					wc.lock.Lock()
					wc.closeErr(ErrTooManySub)
					wc.lock.Unlock()
					wc.log.Warn().Int("limit", wc.srv.config.MaxSubscription).Msg("subscription limit reached")
					return
				}
				slist, _ := wc.srv.sublistmap.GetSublist(id, true)
				wc.sublist[id] = slist
				slist.Subscribe(wc)
				wc.log.Trace().Msgf("subscribing to %d", id)
			}
		case CMD_DELSUB:
			ids := parseIds(msg[7:])
			wc.log.Debug().Str("delsub", msg[7:]).Msg("receive delete subscription message")
			for _, id := range ids {
				slist, ok := wc.sublist[id]
				if !ok {
					wc.log.Warn().Uint64("tracker_id", id).Msg("invalid unsub id")
					continue
				}
				slist.Unsubscribe(wc)
				delete(wc.sublist, id)
				wc.log.Trace().Msgf("unsubscribing to %d", id)
			}
		}
	}
}

func (wc *WebstreamClient) unsubscribeAll() {
	for id, slist := range wc.sublist {
		slist.Unsubscribe(wc)
		delete(wc.sublist, id)
	}
}

func (wc *WebstreamClient) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer wc.wg.Done()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wc.wake:
		}
		wc.lock.Lock()
		buf := wc.buf
		wc.buf = make([][]byte, 0, 10)
		wc.lock.Unlock()
		for _, d := range buf {
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wc.c.Write(wctx, websocket.MessageText, d)
			cancel()
			if err != nil {
				wc.log.Error().Err(err).Msg("Error while writing to connection")
				wc.lock.Lock()
				wc.closeErr(err)
				wc.lock.Unlock()
				return
			}
		}
	}
}

// Push queues data for the client, it reports true once the client is gone.
func (wc *WebstreamClient) Push(sender uint64, data []byte) bool {
	wc.lock.Lock()
	defer wc.lock.Unlock()
	if wc.closed {
		return true
	}
	if len(wc.buf) >= 256 {
		wc.log.Warn().Uint64("tracker_id", sender).Msg("client is behind, dropping position")
		return false
	}
	wc.buf = append(wc.buf, data)
	select {
	case wc.wake <- struct{}{}:
	default:
	}
	return false
}
