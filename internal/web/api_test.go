package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nuha.dev/textgps/internal/cache"
	"nuha.dev/textgps/internal/gpsv2/device"
	"nuha.dev/textgps/internal/gpsv2/photo"
	"nuha.dev/textgps/internal/gpsv2/position"
	"nuha.dev/textgps/internal/gpsv2/registry"
	"nuha.dev/textgps/internal/gpsv2/stat"
	"nuha.dev/textgps/internal/store/impl/logstore"
	"nuha.dev/textgps/internal/util"
)

const apiKey = "test-key"

type fixture struct {
	api    *Api
	srv    *httptest.Server
	photos *logstore.LogStore
	latest *cache.Memory
	stat   *stat.Stat
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{photos: logstore.NewStore(io.Discard), latest: cache.NewMemory(), stat: stat.NewStat()}
	reg := registry.NewRegistry(nil, false)
	reg.Add(registry.Device{TrackerId: 3, Protocol: device.PROTOCOL_ITS, UniqueID: "861359037432331", Config: device.DefaultDeviceConfig()})
	api, err := NewApi(&Param{Latest: f.latest, Photos: f.photos, Devices: reg, Stat: f.stat},
		&ApiConfig{ApiKeyHash: util.CryptPwd(apiKey), HashidSalt: "salt"})
	if err != nil {
		t.Fatal(err)
	}
	f.api = api
	f.srv = httptest.NewServer(api.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) call(t *testing.T, name string, key string, body interface{}) *http.Response {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/func/"+name, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestApiKey(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		key  string
		code int
	}{
		{"", http.StatusUnauthorized},
		{"nope", http.StatusUnauthorized},
		{apiKey, http.StatusOK},
		{apiKey, http.StatusOK},
	}
	for _, tt := range tests {
		if res := f.call(t, "GetStats", tt.key, nil); res.StatusCode != tt.code {
			t.Errorf("key %q: status %d want %d", tt.key, res.StatusCode, tt.code)
		}
	}
}

func TestGetStats(t *testing.T) {
	f := newFixture(t)
	f.stat.Outcome(device.PROTOCOL_ITS, device.Record, time.Now())
	f.stat.Outcome(device.PROTOCOL_ITS, device.Mismatch, time.Now())
	res := f.call(t, "GetStats", apiKey, nil)
	var snap stat.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Outcomes["its"]["record"] != 1 || snap.Outcomes["its"]["mismatch"] != 1 {
		t.Errorf("outcomes %v", snap.Outcomes)
	}
}

func TestGetLatestPosition(t *testing.T) {
	f := newFixture(t)
	pos := position.New(device.PROTOCOL_ITS, 3, "861359037432331")
	pos.Latitude = -6.2
	f.latest.Put(pos)

	res := f.call(t, "GetLatestPosition", apiKey, TrackerIdRequestModel{TrackerId: 3})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	var got position.Position
	_ = json.NewDecoder(res.Body).Decode(&got)
	if got.ID != pos.ID || got.Latitude != -6.2 {
		t.Errorf("got %+v", got)
	}

	if res := f.call(t, "GetLatestPosition", apiKey, TrackerIdRequestModel{TrackerId: 4}); res.StatusCode != http.StatusNotFound {
		t.Errorf("unknown tracker: status %d", res.StatusCode)
	}
	if res := f.call(t, "GetLatestPosition", apiKey, map[string]int{}); res.StatusCode != http.StatusBadRequest {
		t.Errorf("missing tracker id: status %d", res.StatusCode)
	}
}

func TestGetTracker(t *testing.T) {
	f := newFixture(t)
	res := f.call(t, "GetTracker", apiKey, TrackerIdRequestModel{TrackerId: 3})
	var got TrackerModel
	_ = json.NewDecoder(res.Body).Decode(&got)
	if got.Protocol != device.PROTOCOL_ITS || !got.Config.Store {
		t.Errorf("got %+v", got)
	}
	if res := f.call(t, "NoSuchFunc", apiKey, nil); res.StatusCode != http.StatusNotFound {
		t.Errorf("unknown function: status %d", res.StatusCode)
	}
}

func TestPhotoLink(t *testing.T) {
	f := newFixture(t)
	img := []byte("\xff\xd8\xff\xe0jpeg")
	id, _ := f.photos.SavePhoto(context.Background(), &photo.Photo{DeviceID: 3, PhotoID: "P1", Data: img})

	res := f.call(t, "GetPhotoLink", apiKey, PhotoIdRequestModel{PhotoId: id})
	var link PhotoLinkModel
	_ = json.NewDecoder(res.Body).Decode(&link)
	if len(link.Id) < 8 || link.Path != "/photo/"+link.Id {
		t.Fatalf("link %+v", link)
	}

	get, err := http.Get(f.srv.URL + link.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer get.Body.Close()
	body, _ := io.ReadAll(get.Body)
	if get.StatusCode != http.StatusOK || !bytes.Equal(body, img) {
		t.Errorf("status %d body %q", get.StatusCode, body)
	}
	if ct := get.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type %s", ct)
	}

	for _, path := range []string{"/photo/garbage", "/photo/" + mustEncode(t, f.api, 99)} {
		res, err := http.Get(f.srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusNotFound {
			t.Errorf("%s: status %d", path, res.StatusCode)
		}
	}
}

func mustEncode(t *testing.T, api *Api, id int64) string {
	s, err := api.hid.EncodeInt64([]int64{id})
	if err != nil {
		t.Fatal(err)
	}
	return s
}
