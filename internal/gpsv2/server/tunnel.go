package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/yamux"
)

const (
	TUNNEL_ACCEPTED string = "tunnel_accepted"
	TUNNEL_REJECTED string = "tunnel_rejected"
	TUNNEL_ERROR    string = "tunnel_error"
)

type tunnelAddr string

func (a tunnelAddr) Network() string { return "tcp" }
func (a tunnelAddr) String() string  { return string(a) }

// tunnelConn is a yamux stream whose first line carried the device address.
type tunnelConn struct {
	net.Conn
	r     *bufio.Reader
	raddr tunnelAddr
}

func (c *tunnelConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *tunnelConn) RemoteAddr() net.Addr {
	return c.raddr
}

func acceptTunnelConn(stream net.Conn) (*tunnelConn, error) {
	r := bufio.NewReader(stream)
	raddr, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return &tunnelConn{Conn: stream, r: r, raddr: tunnelAddr(strings.TrimSpace(raddr))}, nil
}

// dialTunnel authenticates with the tunnel end and opens a yamux session on
// which the tunnel end opens one stream per device connection.
func dialTunnel(ctx context.Context, addr, token string) (*yamux.Session, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	yconn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	_ = yconn.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err = yconn.Write([]byte(token)); err != nil {
		yconn.Close()
		return nil, err
	}
	status := []byte{0}
	if _, err = yconn.Read(status); err != nil {
		yconn.Close()
		return nil, err
	}
	if status[0] != '+' {
		yconn.Close()
		return nil, errTunnelRejected
	}
	_ = yconn.SetDeadline(time.Time{})
	return yamux.Client(yconn, nil)
}

func (s *Server) runMuxListener(ctx context.Context) {
	runLoop := func() {
		s.log.Info().Msgf("dialling tunnel %s", s.config.YamuxTunnelAddr)
		session, err := dialTunnel(ctx, s.config.YamuxTunnelAddr, s.config.YamuxToken)
		if err != nil {
			ev := TUNNEL_ERROR
			if err == errTunnelRejected {
				ev = TUNNEL_REJECTED
			}
			s.log.Error().Err(err).Str("event", ev).Msg("unable to open yamux tunnel")
			return
		}
		s.log.Info().Str("event", TUNNEL_ACCEPTED).Msg("")
		go func() {
			select {
			case <-ctx.Done():
			case <-session.CloseChan():
			}
			session.Close()
		}()
		for {
			stream, err := session.Accept()
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error().Err(err).Str("event", TUNNEL_ERROR).Msg("")
				}
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				tc, err := acceptTunnelConn(stream)
				if err != nil {
					s.log.Error().Err(err).Str("event", TUNNEL_ERROR).Msg("unable to read remote address")
					stream.Close()
					return
				}
				s.ServeConn(ctx, tc)
			}()
		}
	}

	for {
		t0 := time.Now()
		runLoop()
		wait := 5 * time.Second
		if time.Since(t0) > 10*time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
