package main

import (
	"testing"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/gpsv2/device"
	"nuha.dev/textgps/internal/gpsv2/device/fifotrack"
	"nuha.dev/textgps/internal/gpsv2/device/its"
	"nuha.dev/textgps/internal/gpsv2/photo"
)

const testImei = "123456789012345"

var resolver = device.ResolverFunc(func(protocol, unique_id string) (uint64, bool) {
	return 1, unique_id == testImei
})

func TestSentencesDecode(t *testing.T) {
	now := time.Date(2021, 6, 1, 8, 30, 0, 0, time.UTC)
	f := fifotrack.NewFifotrack(1, resolver, photo.NewSessions(0), log.DefaultLogger)
	if res := f.Decode(fifotrackLocation(testImei, now, -6.2, 106.8)); res.Outcome != device.Record {
		t.Errorf("fifotrack: outcome %v err %v", res.Outcome, res.Err)
	} else if !res.Position.DeviceTime.Equal(now) || res.Position.Latitude != -6.2 {
		t.Errorf("fifotrack position %+v", res.Position)
	}

	d := its.NewIts(1, resolver, log.DefaultLogger)
	if res := d.Decode(itsLocation(testImei, now, -6.2, 106.8)); res.Outcome != device.Record {
		t.Errorf("its: outcome %v err %v", res.Outcome, res.Err)
	} else if res.Position.Latitude != -6.2 || res.Position.Longitude != 106.8 {
		t.Errorf("its position %+v", res.Position)
	}
}

func TestPhotoRoundTrip(t *testing.T) {
	f := fifotrack.NewFifotrack(1, resolver, photo.NewSessions(0), log.DefaultLogger)
	res := f.Decode(photoAnnounce(testImei, "P7", 10))
	if len(res.Replies) != 1 {
		t.Fatalf("announce: %v %v", res.Outcome, res.Err)
	}
	id, offset, size, err := parseChunkRequest(string(res.Replies[0]))
	if err != nil || id != "P7" || offset != 0 || size != 10 {
		t.Fatalf("request %s %d %d %v", id, offset, size, err)
	}
	res = f.Decode(chunk(testImei, id, offset, []byte("0123456789")))
	if res.Photo == nil || string(res.Photo.Data) != "0123456789" {
		t.Errorf("photo not completed: %v %v", res.Outcome, res.Err)
	}
}

func TestParseChunkRequestRejects(t *testing.T) {
	for _, line := range []string{"", "$$1,2", "@@35,1,D05,P1,0,10*00", "@@35,1,D06,P1,x,10*00"} {
		if _, _, _, err := parseChunkRequest(line); err == nil {
			t.Errorf("%q accepted", line)
		}
	}
}
