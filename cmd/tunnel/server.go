// Command tunnel exposes a public port for devices and forwards every device
// connection to a gps server that dialled in over a yamux session. The first
// line of each stream carries the device address.
package main

import (
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"time"

	yamux "github.com/hashicorp/yamux"
	"github.com/phuslu/log"
)

var eaddr = flag.String("eaddr", ":5555", "address for device connections")
var taddr = flag.String("taddr", ":5556", "address for tunnel connection")
var secret = flag.String("token", "token", "token for tunnel auth connection")
var certfile = flag.String("cert", "", "tls certificate file")
var keyfile = flag.String("key", "", "tls key file ")

var errBadToken = errors.New("bad tunnel token")

func main() {
	flag.Parse()
	log.Info().Msgf("using external addr %s and tunnel addr %s", *eaddr, *taddr)

	var ylistener net.Listener
	var err error
	if *certfile == "" && *keyfile == "" {
		log.Info().Msg("starting non-tls listener")
		ylistener, err = net.Listen("tcp", *taddr)
	} else {
		log.Info().Msg("starting tls listener")
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(*certfile, *keyfile)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to load certificate")
		}
		ylistener, err = tls.Listen("tcp", *taddr, &tls.Config{Certificates: []tls.Certificate{cert}})
	}
	if err != nil {
		log.Fatal().Err(err).Msg("unable to listen")
	}

	for {
		yconn, err := ylistener.Accept()
		if err != nil {
			log.Error().Err(err).Msg("accept tunnel connection")
			time.Sleep(time.Second)
			continue
		}
		log.Info().Str("remote", yconn.RemoteAddr().String()).Msg("tunnel connection")
		session, err := authenticate(yconn, *secret)
		if err != nil {
			log.Error().Err(err).Str("remote", yconn.RemoteAddr().String()).Msg("tunnel rejected")
			yconn.Close()
			continue
		}
		runExternal(session, *eaddr)
		log.Info().Msg("tunnel session ended, waiting for a new one")
	}
}

// authenticate checks the token sent by the gps server and answers '+' or '-'.
func authenticate(yconn net.Conn, token string) (*yamux.Session, error) {
	_ = yconn.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, 64)
	n, err := yconn.Read(buf)
	if err != nil {
		return nil, err
	}
	_ = yconn.SetReadDeadline(time.Time{})
	if token != string(buf[:n]) {
		_, _ = yconn.Write([]byte{'-'})
		return nil, errBadToken
	}
	if _, err := yconn.Write([]byte{'+'}); err != nil {
		return nil, err
	}
	return yamux.Server(yconn, nil)
}

// runExternal accepts device connections until the session closes.
func runExternal(session *yamux.Session, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error().Err(err).Msg("unable to open external listener")
		session.Close()
		return
	}
	go func() {
		<-session.CloseChan()
		listener.Close()
	}()
	defer listener.Close()
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Info().Err(err).Msg("closing external listener")
			return
		}
		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("new device connection")
		go func() {
			forward(session, conn)
			conn.Close()
		}()
	}
}

func forward(session *yamux.Session, conn net.Conn) {
	tstream, err := session.OpenStream()
	if err != nil {
		log.Error().Err(err).Msg("error trying to open stream")
		return
	}
	c := make(chan error, 1)
	go func() {
		_, err := fmt.Fprintf(tstream, "%s\n", conn.RemoteAddr())
		if err == nil {
			_, err = io.Copy(tstream, conn)
		}
		tstream.Close()
		c <- err
	}()
	if _, err := io.Copy(conn, tstream); err != nil {
		log.Debug().Err(err).Uint32("stream", tstream.StreamID()).Msg("copy to device")
	}
	conn.Close()
	if err := <-c; err != nil {
		log.Debug().Err(err).Uint32("stream", tstream.StreamID()).Msg("copy to stream")
	}
}
