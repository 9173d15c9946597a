package fifotrack

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/gpsv2/device"
	"nuha.dev/textgps/internal/gpsv2/pattern"
	"nuha.dev/textgps/internal/gpsv2/photo"
	"nuha.dev/textgps/internal/gpsv2/position"
)

const (
	PHOTO_ANNOUNCED string = "photo_announced"
	PHOTO_CHUNK     string = "photo_chunk"
	PHOTO_COMPLETE  string = "photo_complete"
	PHOTO_DROPPED   string = "photo_dropped"
)

var ErrBadPayload = errors.New("bad photo payload")

type Fifotrack struct {
	cid      uint64
	resolver device.Resolver
	photos   *photo.Sessions
	log      log.Logger
}

func NewFifotrack(cid uint64, resolver device.Resolver, photos *photo.Sessions, logger log.Logger) *Fifotrack {
	o := &Fifotrack{cid: cid, resolver: resolver, photos: photos}
	o.log = logger
	o.log.Context = log.NewContext(nil).Str("module", device.PROTOCOL_FIFOTRACK).Uint64("cid", cid).Value()
	return o
}

func (f *Fifotrack) Protocol() string {
	return device.PROTOCOL_FIFOTRACK
}

// Close drops the photo transfer of this connection, if any.
func (f *Fifotrack) Close() {
	if f.photos.Discard(f.cid) {
		f.log.Info().Str("event", PHOTO_DROPPED).Msg("connection closed during photo transfer")
	}
}

// sentenceType returns the command field following the index. Chunk
// sentences may omit the index, their command then sits in the third field.
func sentenceType(sentence string) string {
	fields := strings.SplitN(sentence, ",", 5)
	if len(fields) < 4 {
		return ""
	}
	switch fields[3] {
	case CMD_PHOTO_ANNOUNCE, CMD_PHOTO_CHUNK:
		return fields[3]
	}
	if fields[2] == CMD_PHOTO_CHUNK {
		return CMD_PHOTO_CHUNK
	}
	return fields[3]
}

func (f *Fifotrack) Decode(sentence string) device.Result {
	switch sentenceType(sentence) {
	case CMD_PHOTO_ANNOUNCE:
		r, ok := announcePattern.Parse(sentence)
		if !ok {
			return device.Result{Outcome: device.Mismatch}
		}
		return f.decodeAnnounce(r)
	case CMD_PHOTO_CHUNK:
		if r, ok := chunkPattern.Parse(sentence); ok {
			return f.decodeChunk(r)
		}
		// an index of D06 on a location report
	}
	r, ok := locationPattern.Parse(sentence)
	if !ok {
		return device.Result{Outcome: device.Mismatch}
	}
	return f.decodeLocation(r)
}

func (f *Fifotrack) decodeLocation(r *pattern.Parser) device.Result {
	imei := r.Next()
	tid, ok := f.resolver.Resolve(device.PROTOCOL_FIFOTRACK, imei)
	if !ok {
		return device.Result{Outcome: device.UnknownDevice}
	}

	pos := position.New(device.PROTOCOL_FIFOTRACK, tid, imei)
	if r.HasNext(1) {
		pos.Set(position.KEY_ALARM, r.Next())
	}
	pos.DeviceTime = r.DateTime(pattern.YMD)
	pos.Valid = r.Next() == "A"
	pos.Latitude = r.Coordinate(pattern.DEG)
	pos.Longitude = r.Coordinate(pattern.DEG)
	pos.Speed = position.KnotsFromKph(float64(r.Int(0)))
	pos.Course = float64(r.Int(0))
	pos.Altitude = float64(r.Int(0))

	pos.Set(position.KEY_ODOMETER, r.Int64(0))
	pos.Set(position.KEY_STATUS, r.Hex(0))
	if r.HasNext(1) {
		pos.Set(position.KEY_INPUT, r.Hex(0))
	}
	if r.HasNext(1) {
		pos.Set(position.KEY_OUTPUT, r.Hex(0))
	}

	pos.Network = position.NewNetwork(position.CellTower{
		MCC: r.Int(0),
		MNC: r.Int(0),
		LAC: int(r.Hex(0)),
		CID: int(r.Hex(0)),
	})

	for i, v := range strings.Split(r.Next(), "|") {
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 16, 64)
		if err != nil {
			return device.Result{Outcome: device.Malformed, Err: fmt.Errorf("adc%d=%q: %w", i+1, v, err)}
		}
		pos.Set(position.PREFIX_ADC+strconv.Itoa(i+1), n)
	}

	pos.Set(position.KEY_DRIVER_UNIQUE_ID, r.Next())

	if r.HasNext(1) {
		for i, v := range strings.Split(r.Next(), "|") {
			pos.Set(position.PREFIX_IO+strconv.Itoa(i+1), v)
		}
	}

	if err := r.Err(); err != nil {
		return device.Result{Outcome: device.Malformed, Err: err}
	}
	return device.Result{Outcome: device.Record, Position: pos}
}

func (f *Fifotrack) decodeAnnounce(r *pattern.Parser) device.Result {
	imei := r.Next()
	length := r.Int(0)
	photo_id := r.Next()
	if err := r.Err(); err != nil {
		return device.Result{Outcome: device.Malformed, Err: err}
	}
	tid, ok := f.resolver.Resolve(device.PROTOCOL_FIFOTRACK, imei)
	if !ok {
		return device.Result{Outcome: device.UnknownDevice}
	}
	sess, err := f.photos.Announce(f.cid, tid, imei, photo_id, length)
	if err != nil {
		f.log.Debug().Err(err).Str("photo_id", photo_id).Int("length", length).Msg("photo announcement ignored")
		return device.Result{Outcome: device.Ignored, Err: err}
	}
	f.log.Info().Str("event", PHOTO_ANNOUNCED).EmbedObject(sess).Msg("")
	offset, size := sess.NextRequest()
	return device.Result{Outcome: device.Control, Replies: [][]byte{PhotoRequest(imei, photo_id, offset, size)}}
}

func (f *Fifotrack) decodeChunk(r *pattern.Parser) device.Result {
	imei := r.Next()
	photo_id := r.Next()
	r.Skip(2) // offset, size
	payload := r.Next()
	if err := r.Err(); err != nil {
		return device.Result{Outcome: device.Malformed, Err: err}
	}
	data, err := hex.DecodeString(payload)
	if err != nil {
		return device.Result{Outcome: device.Malformed, Err: fmt.Errorf("%w: %v", ErrBadPayload, err)}
	}

	sess, p, err := f.photos.Append(f.cid, photo_id, data)
	if err != nil {
		f.log.Debug().Err(err).Str("photo_id", photo_id).Msg("photo chunk ignored")
		return device.Result{Outcome: device.Ignored, Err: err}
	}
	if p != nil {
		f.log.Info().Str("event", PHOTO_COMPLETE).EmbedObject(p).Msg("")
		return device.Result{Outcome: device.Control, Photo: p}
	}
	f.log.Trace().Str("event", PHOTO_CHUNK).EmbedObject(sess).Msg("")
	offset, size := sess.NextRequest()
	return device.Result{Outcome: device.Control, Replies: [][]byte{PhotoRequest(imei, photo_id, offset, size)}}
}
