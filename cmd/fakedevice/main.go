package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/gpsv2/checksum"
	"nuha.dev/textgps/internal/gpsv2/device"
)

var (
	addr      = flag.String("addr", "127.0.0.1:5555", "gps server address")
	protocol  = flag.String("protocol", device.PROTOCOL_FIFOTRACK, "fifotrack or its")
	imei      = flag.String("imei", "123456789012345", "device imei")
	count     = flag.Int("count", 10, "number of location sentences")
	interval  = flag.Duration("interval", 2*time.Second, "time between sentences")
	photoSize = flag.Int("photo", 0, "announce a photo of this many bytes (fifotrack only)")
)

func fifotrackLocation(imei string, t time.Time, lat, lon float64) string {
	body := fmt.Sprintf("$$0000,%s,%04X,A0,,%s,A,%.6f,%.6f,%d,%d,%d,%d,%d,%04X,,,510|10|1F2A|3B4C,0100|0200,RF001*",
		imei, rand.Intn(0xffff), t.UTC().Format("060102150405"), lat, lon,
		rand.Intn(100), rand.Intn(360), rand.Intn(200), rand.Intn(100000), rand.Intn(10000), rand.Intn(0xffff))
	return body + checksum.Sum(body)
}

func hemisphere(v float64, pos, neg string) (float64, string) {
	if v < 0 {
		return -v, neg
	}
	return v, pos
}

func itsLocation(imei string, t time.Time, lat, lon float64) string {
	lat, ns := hemisphere(lat, "N", "S")
	lon, ew := hemisphere(lon, "E", "W")
	body := fmt.Sprintf("$,01,FAKE,1.0.0,NR,1,L,%s,NR,%s,%s,A,%.6f,%s,%.6f,%s,%.1f,%.1f,%d,",
		imei, t.UTC().Format("02012006"), t.UTC().Format("150405"), lat, ns, lon, ew,
		rand.Float64()*80, rand.Float64()*360, 4+rand.Intn(10))
	return body + "*" + checksum.Sum(body)
}

func photoAnnounce(imei string, photo_id string, size int) string {
	body := fmt.Sprintf("$$0000,%s,0001,D05,%d,%s*", imei, size, photo_id)
	return body + checksum.Sum(body)
}

// parseChunkRequest reads "@@35,imei,D06,P1,0,1024*XX".
func parseChunkRequest(line string) (photo_id string, offset, size int, err error) {
	line = strings.TrimSpace(line)
	star := strings.LastIndexByte(line, '*')
	if !strings.HasPrefix(line, "@@") || star < 0 {
		return "", 0, 0, fmt.Errorf("not a request: %q", line)
	}
	f := strings.Split(line[:star], ",")
	if len(f) != 6 || f[2] != "D06" {
		return "", 0, 0, fmt.Errorf("not a chunk request: %q", line)
	}
	if offset, err = strconv.Atoi(f[4]); err != nil {
		return "", 0, 0, err
	}
	if size, err = strconv.Atoi(f[5]); err != nil {
		return "", 0, 0, err
	}
	return f[3], offset, size, nil
}

func chunk(imei, photo_id string, offset int, data []byte) string {
	body := fmt.Sprintf("$$0000,%s,D06,%s,%d,%d,%s*", imei, photo_id, offset, len(data), hex.EncodeToString(data))
	return body + checksum.Sum(body)
}

func send(c net.Conn, s string) {
	log.Debug().Str("sentence", s).Msg("send")
	if _, err := c.Write([]byte(s + "\r\n")); err != nil {
		log.Fatal().Err(err).Msg("write failed")
	}
}

func sendPhoto(c net.Conn, r *bufio.Reader, size int) {
	img := make([]byte, size)
	rand.Read(img)
	photo_id := "P" + strconv.Itoa(rand.Intn(1000))
	send(c, photoAnnounce(*imei, photo_id, size))
	for {
		_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
		line, err := r.ReadString('\n')
		if err != nil {
			log.Fatal().Err(err).Msg("waiting for chunk request")
		}
		id, offset, n, err := parseChunkRequest(line)
		if err != nil {
			log.Warn().Err(err).Msg("")
			continue
		}
		log.Info().Str("photo_id", id).Int("offset", offset).Int("size", n).Msg("chunk requested")
		send(c, chunk(*imei, id, offset, img[offset:offset+n]))
		if offset+n == size {
			log.Info().Str("photo_id", id).Int("size", size).Msg("photo sent")
			return
		}
	}
}

func main() {
	flag.Parse()
	log.DefaultLogger.Level = log.DebugLevel
	c, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Msg("dial failed")
	}
	defer c.Close()
	r := bufio.NewReader(c)

	lat, lon := -6.2, 106.8
	for i := 0; i < *count; i++ {
		lat += (rand.Float64() - 0.5) / 1000
		lon += (rand.Float64() - 0.5) / 1000
		switch *protocol {
		case device.PROTOCOL_ITS:
			send(c, itsLocation(*imei, time.Now(), lat, lon))
			ack := make([]byte, 5)
			_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
			if _, err := r.Read(ack); err != nil {
				log.Fatal().Err(err).Msg("waiting for ack")
			}
			log.Info().Str("ack", string(ack)).Msg("")
		default:
			send(c, fifotrackLocation(*imei, time.Now(), lat, lon))
		}
		time.Sleep(*interval)
	}
	if *photoSize > 0 && *protocol == device.PROTOCOL_FIFOTRACK {
		sendPhoto(c, r, *photoSize)
	}
}
