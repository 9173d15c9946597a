package fifotrack

import (
	"bytes"
	"encoding/hex"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/gpsv2/checksum"
	"nuha.dev/textgps/internal/gpsv2/device"
	"nuha.dev/textgps/internal/gpsv2/photo"
	"nuha.dev/textgps/internal/gpsv2/position"
)

const imei = "123456789012345"

func newDecoder() (*Fifotrack, *photo.Sessions) {
	resolver := device.ResolverFunc(func(protocol, unique_id string) (uint64, bool) {
		if protocol == device.PROTOCOL_FIFOTRACK && unique_id == imei {
			return 42, true
		}
		return 0, false
	})
	photos := photo.NewSessions(0)
	return NewFifotrack(1, resolver, photos, log.DefaultLogger), photos
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestDecodeLocation(t *testing.T) {
	f, _ := newDecoder()
	res := f.Decode("$$0176,123456789012345,0001,A0,1,190101120000,A,31.12345,121.12345,60,90,50,1000,3600,0001,,,460|00|1234|5678,1F|2A,RF001*CRC")
	if res.Outcome != device.Record {
		t.Fatalf("outcome %v err %v", res.Outcome, res.Err)
	}
	pos := res.Position
	if pos.DeviceID != 42 || pos.UniqueID != imei || pos.Protocol != "fifotrack" {
		t.Errorf("device %d %s %s", pos.DeviceID, pos.UniqueID, pos.Protocol)
	}
	if !pos.DeviceTime.Equal(time.Date(2019, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("time %v", pos.DeviceTime)
	}
	if !pos.Valid || pos.Latitude != 31.12345 || pos.Longitude != 121.12345 {
		t.Errorf("fix %v %f %f", pos.Valid, pos.Latitude, pos.Longitude)
	}
	if !almostEqual(pos.Speed, 60*0.539957) || math.Abs(pos.Speed-32.4) > 0.01 {
		t.Errorf("speed %f", pos.Speed)
	}
	if pos.Course != 90 || pos.Altitude != 50 {
		t.Errorf("course %f altitude %f", pos.Course, pos.Altitude)
	}
	attrs := map[string]interface{}{
		position.KEY_ALARM:            "1",
		position.KEY_ODOMETER:         int64(1000),
		position.KEY_STATUS:           int64(1),
		"adc1":                        int64(0x1F),
		"adc2":                        int64(0x2A),
		position.KEY_DRIVER_UNIQUE_ID: "RF001",
	}
	for k, v := range attrs {
		if pos.Attributes[k] != v {
			t.Errorf("%s = %v (%T), want %v", k, pos.Attributes[k], pos.Attributes[k], v)
		}
	}
	for _, k := range []string{position.KEY_INPUT, position.KEY_OUTPUT, "io1"} {
		if pos.Has(k) {
			t.Errorf("%s should be absent", k)
		}
	}
	if pos.Network == nil || len(pos.Network.CellTowers) != 1 {
		t.Fatal("missing network")
	}
	cell := pos.Network.CellTowers[0]
	if cell.MCC != 460 || cell.MNC != 0 || cell.LAC != 0x1234 || cell.CID != 0x5678 {
		t.Errorf("cell %+v", cell)
	}
}

func TestDecodeLocationOptionalFields(t *testing.T) {
	f, _ := newDecoder()
	res := f.Decode("$$0180,123456789012345,AB,A0,,190101120000,V,-31.5,-121.25,0,0,-5,1000,3600,00FF,1A,2,460|01|1234|5678,1F,RF001,t1|t2|t3|t4*7F")
	if res.Outcome != device.Record {
		t.Fatalf("outcome %v err %v", res.Outcome, res.Err)
	}
	pos := res.Position
	if pos.Valid || pos.Latitude != -31.5 || pos.Longitude != -121.25 || pos.Altitude != -5 {
		t.Errorf("fix %v %f %f %f", pos.Valid, pos.Latitude, pos.Longitude, pos.Altitude)
	}
	if pos.Has(position.KEY_ALARM) {
		t.Error("empty alarm should be absent")
	}
	if pos.Attributes[position.KEY_STATUS] != int64(0xFF) || pos.Attributes[position.KEY_INPUT] != int64(0x1A) || pos.Attributes[position.KEY_OUTPUT] != int64(2) {
		t.Errorf("io %v", pos.Attributes)
	}
	for i, v := range []string{"t1", "t2", "t3", "t4"} {
		if pos.Attributes["io"+strconv.Itoa(i+1)] != v {
			t.Errorf("io%d = %v", i+1, pos.Attributes["io"+strconv.Itoa(i+1)])
		}
	}
	if pos.Has("adc2") || pos.Attributes["adc1"] != int64(0x1F) {
		t.Errorf("adc %v", pos.Attributes)
	}
}

func TestDecodeDrops(t *testing.T) {
	f, _ := newDecoder()
	cases := []struct {
		in   string
		want device.Outcome
	}{
		{"garbage", device.Mismatch},
		{"$$0176,999999999999999,0001,A0,1,190101120000,A,31.12345,121.12345,60,90,50,1000,3600,0001,,,460|00|1234|5678,1F|2A,RF001*CRC", device.UnknownDevice},
		{"$$0176,123456789012345,0001,A0,1,191301120000,A,31.12345,121.12345,60,90,50,1000,3600,0001,,,460|00|1234|5678,1F|2A,RF001*CRC", device.Malformed},
	}
	for _, c := range cases {
		res := f.Decode(c.in)
		if res.Outcome != c.want || res.Position != nil {
			t.Errorf("%s: outcome %v, want %v", c.in, res.Outcome, c.want)
		}
	}
}

func TestPhotoRequest(t *testing.T) {
	got := string(PhotoRequest(imei, "P1", 0, 1024))
	want := "@@35,123456789012345,D06,P1,0,1024*1C\r\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	body := "@@35,123456789012345,D06,P1,0,1024*"
	if got[len(body):len(body)+2] != checksum.Sum(body) {
		t.Error("checksum does not cover the frame body")
	}
}

func withChecksum(s string) string {
	return s + checksum.Sum(s)
}

func chunkSentence(photo_id string, offset int, data []byte) string {
	return withChecksum("$$0100," + imei + ",D06," + photo_id + "," + strconv.Itoa(offset) + "," + strconv.Itoa(len(data)) + "," + hex.EncodeToString(data) + "*")
}

func TestPhotoTransfer(t *testing.T) {
	f, photos := newDecoder()
	res := f.Decode(withChecksum("$$0040," + imei + ",0001,D05,2500,P1*"))
	if res.Outcome != device.Control || len(res.Replies) != 1 {
		t.Fatalf("announce: outcome %v err %v", res.Outcome, res.Err)
	}
	if !bytes.Equal(res.Replies[0], PhotoRequest(imei, "P1", 0, 1024)) {
		t.Errorf("first request %q", res.Replies[0])
	}

	img := make([]byte, 2500)
	for i := range img {
		img[i] = byte(i)
	}
	res = f.Decode(chunkSentence("P1", 0, img[:1024]))
	if res.Outcome != device.Control || !bytes.Equal(res.Replies[0], PhotoRequest(imei, "P1", 1024, 1024)) {
		t.Fatalf("second request: %v %q", res.Outcome, res.Replies)
	}

	res = f.Decode(chunkSentence("P9", 1024, img[1024:2048]))
	if res.Outcome != device.Ignored || len(res.Replies) != 0 {
		t.Errorf("foreign photo: outcome %v", res.Outcome)
	}
	if sess, _ := photos.Get(1); sess.Offset() != 1024 {
		t.Errorf("foreign chunk changed the buffer, offset %d", sess.Offset())
	}

	res = f.Decode(chunkSentence("P1", 1024, img[1024:2048]))
	if !bytes.Equal(res.Replies[0], PhotoRequest(imei, "P1", 2048, 452)) {
		t.Fatalf("third request %q", res.Replies)
	}
	res = f.Decode(chunkSentence("P1", 2048, img[2048:]))
	if res.Outcome != device.Control || res.Photo == nil || len(res.Replies) != 0 {
		t.Fatalf("completion: outcome %v photo %v", res.Outcome, res.Photo)
	}
	if !bytes.Equal(res.Photo.Data, img) || res.Photo.DeviceID != 42 || res.Photo.PhotoID != "P1" {
		t.Error("reassembled photo differs")
	}
	if photos.Len() != 0 {
		t.Error("session should be gone")
	}
}

func TestPhotoReannounceAndClose(t *testing.T) {
	f, photos := newDecoder()
	f.Decode(withChecksum("$$0040," + imei + ",0001,D05,100,P1*"))
	f.Decode(chunkSentence("P1", 0, []byte("abcdef")))
	res := f.Decode(withChecksum("$$0040," + imei + ",0001,D05,50,P2*"))
	if !bytes.Equal(res.Replies[0], PhotoRequest(imei, "P2", 0, 50)) {
		t.Errorf("re-announce request %q", res.Replies[0])
	}
	if res := f.Decode(withChecksum("$$0040," + imei + ",0001,D05,0,P3*")); res.Outcome != device.Ignored {
		t.Errorf("zero length announce: outcome %v", res.Outcome)
	}
	if sess, ok := photos.Get(1); !ok || sess.PhotoID != "P2" || sess.Offset() != 0 {
		t.Error("second announcement should start a fresh session")
	}
	f.Close()
	if photos.Len() != 0 {
		t.Error("close should drop the session")
	}
	if res := f.Decode(chunkSentence("P2", 0, []byte("x"))); res.Outcome != device.Ignored {
		t.Errorf("chunk after close: outcome %v", res.Outcome)
	}
}

func TestLocationWithCommandLikeValues(t *testing.T) {
	f, photos := newDecoder()
	f.Decode(withChecksum("$$0040," + imei + ",0001,D05,100,P1*"))
	f.Decode(chunkSentence("P1", 0, []byte("abcdef")))

	cases := []string{
		"$$0176,123456789012345,0001,A0,1,190101120000,A,31.12345,121.12345,60,90,50,1000,3600,0001,,,460|00|1234|D05A,12,RF001*4F",
		"$$0176,123456789012345,D06,A0,1,190101120000,A,31.12345,121.12345,60,90,50,1000,3600,D050,,,460|00|D05|5678,D06,RF001*4F",
	}
	for _, in := range cases {
		res := f.Decode(in)
		if res.Outcome != device.Record || len(res.Replies) != 0 {
			t.Errorf("%s: outcome %v replies %q err %v", in, res.Outcome, res.Replies, res.Err)
		}
	}
	sess, ok := photos.Get(1)
	if !ok || sess.PhotoID != "P1" || sess.Offset() != 6 || photos.Len() != 1 {
		t.Error("location reports must leave the photo transfer alone")
	}
}

func TestSentenceType(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"$$0040,123,0001,D05,100,P1*00", CMD_PHOTO_ANNOUNCE},
		{"$$0100,123,0001,D06,P1,0,2,abcd*00", CMD_PHOTO_CHUNK},
		{"$$0100,123,D06,P1,0,2,abcd*00", CMD_PHOTO_CHUNK},
		{"$$0176,123,0001,A0,1,190101120000", "A0"},
		{"$$0176,123", ""},
	}
	for _, c := range cases {
		if got := sentenceType(c.in); got != c.want {
			t.Errorf("%s: got %q, want %q", c.in, got, c.want)
		}
	}
}
