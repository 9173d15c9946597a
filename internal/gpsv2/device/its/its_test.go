package its

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/gpsv2/device"
	"nuha.dev/textgps/internal/gpsv2/position"
)

const imei = "861359037432331"

func newDecoder() *Its {
	resolver := device.ResolverFunc(func(protocol, unique_id string) (uint64, bool) {
		return 7, protocol == device.PROTOCOL_ITS && unique_id == imei
	})
	return NewIts(1, resolver, log.DefaultLogger)
}

const telemetrySentence = "$,01,VENDOR,1.0.0,NR,12,L,861359037432331,HB,05032019,101010,A,12.976456,N,77.549183,E,36.0,345.8,15,928.0,0.9,0.7,AIRTEL,1,0,12.6,4.3,0,C,26,404,45,61b4,9ad9,31,9adb,61b4,35,ffff,0000,33,ffff,0000,31,ffff,0000,0101,01,000041*4A"

func TestDecodeTelemetry(t *testing.T) {
	res := newDecoder().Decode(telemetrySentence)
	if res.Outcome != device.Record {
		t.Fatalf("outcome %v err %v", res.Outcome, res.Err)
	}
	if len(res.Replies) != 1 || string(res.Replies[0]) != LOGIN_ACK {
		t.Errorf("replies %q", res.Replies)
	}
	pos := res.Position
	if pos.DeviceID != 7 || pos.Attributes[position.KEY_ALARM] != position.ALARM_BRAKING {
		t.Errorf("device %d alarm %v", pos.DeviceID, pos.Attributes[position.KEY_ALARM])
	}
	if !pos.DeviceTime.Equal(time.Date(2019, 3, 5, 10, 10, 10, 0, time.UTC)) {
		t.Errorf("time %v", pos.DeviceTime)
	}
	if !pos.Valid || pos.Latitude != 12.976456 || pos.Longitude != 77.549183 {
		t.Errorf("fix %v %f %f", pos.Valid, pos.Latitude, pos.Longitude)
	}
	if math.Abs(pos.Speed-36*0.539957) > 1e-6 || pos.Course != 345.8 || pos.Altitude != 928 {
		t.Errorf("speed %f course %f altitude %f", pos.Speed, pos.Course, pos.Altitude)
	}
	attrs := map[string]interface{}{
		position.KEY_SATELLITES: 15,
		position.KEY_IGNITION:   true,
		position.KEY_CHARGE:     false,
		position.KEY_POWER:      12.6,
		position.KEY_BATTERY:    4.3,
		position.KEY_INPUT:      int64(5),
		position.KEY_OUTPUT:     int64(1),
	}
	for k, v := range attrs {
		if pos.Attributes[k] != v {
			t.Errorf("%s = %v (%T), want %v", k, pos.Attributes[k], pos.Attributes[k], v)
		}
	}
	if pos.Network == nil {
		t.Fatal("missing network")
	}
	want := position.CellTower{MCC: 404, MNC: 45, LAC: 0x61b4, CID: 0x9ad9, Signal: 26}
	if pos.Network.CellTowers[0] != want {
		t.Errorf("cell %+v", pos.Network.CellTowers[0])
	}
}

func TestDecodeMinimal(t *testing.T) {
	res := newDecoder().Decode("junk$,ABC,TYPE,861359037432331,,1,20190305,101010,12.5,S,77.5,W,-10.5,40.0,")
	if res.Outcome != device.Record {
		t.Fatalf("outcome %v err %v", res.Outcome, res.Err)
	}
	if len(res.Replies) != 0 {
		t.Errorf("unexpected replies %q", res.Replies)
	}
	pos := res.Position
	if !pos.DeviceTime.Equal(time.Date(2019, 3, 5, 10, 10, 10, 0, time.UTC)) {
		t.Errorf("time %v", pos.DeviceTime)
	}
	if !pos.Valid || pos.Latitude != -12.5 || pos.Longitude != -77.5 {
		t.Errorf("fix %v %f %f", pos.Valid, pos.Latitude, pos.Longitude)
	}
	if pos.Altitude != -10.5 || math.Abs(pos.Speed-40*0.539957) > 1e-6 {
		t.Errorf("altitude %f speed %f", pos.Altitude, pos.Speed)
	}
	if pos.Has(position.KEY_ALARM) || pos.Has(position.KEY_SATELLITES) || pos.Network != nil {
		t.Errorf("unexpected attributes %v", pos.Attributes)
	}
}

func TestDecodeAlarm(t *testing.T) {
	cases := map[string]string{
		"WD": position.ALARM_SOS,
		"EA": position.ALARM_SOS,
		"BL": position.ALARM_LOW_BATTERY,
		"HB": position.ALARM_BRAKING,
		"HA": position.ALARM_ACCELERATION,
		"RT": position.ALARM_CORNERING,
		"OS": position.ALARM_OVERSPEED,
		"NR": "",
		"ZZ": "",
	}
	for code, want := range cases {
		if got := DecodeAlarm(code); got != want {
			t.Errorf("%s: got %q, want %q", code, got, want)
		}
	}
}

func TestUnknownStatusIsNotAnError(t *testing.T) {
	res := newDecoder().Decode("$,02,VENDOR,1.0.0,NR,12,L,861359037432331,ZZ,05032019,101010,A,12.976456,N,77.549183,E,36.0,345.8,15,")
	if res.Outcome != device.Record {
		t.Fatalf("outcome %v err %v", res.Outcome, res.Err)
	}
	if res.Position.Has(position.KEY_ALARM) {
		t.Error("unknown status should not set an alarm")
	}
	if res.Position.Has(position.KEY_IGNITION) {
		t.Error("telemetry should be absent")
	}
}

func TestLoginAck(t *testing.T) {
	d := newDecoder()
	res := d.Decode("$,01,LOGIN*")
	if res.Outcome != device.Control || len(res.Replies) != 1 || string(res.Replies[0]) != "$,1,*" {
		t.Errorf("outcome %v replies %q", res.Outcome, res.Replies)
	}
	res = d.Decode("$,02,LOGIN*")
	if res.Outcome != device.Mismatch || len(res.Replies) != 0 {
		t.Errorf("outcome %v replies %q", res.Outcome, res.Replies)
	}
	res = d.Decode("$,01,VENDOR,1.0.0,NR,12,L,111111111111111,HB,05032019,101010,A,12.976456,N,77.549183,E,36.0,345.8,15,")
	if res.Outcome != device.UnknownDevice || len(res.Replies) != 1 {
		t.Errorf("outcome %v replies %q", res.Outcome, res.Replies)
	}
}

func TestDecodeHexMainCell(t *testing.T) {
	in := strings.Replace(telemetrySentence, ",C,26,404,45,", ",C,1a,40f,2d,", 1)
	res := newDecoder().Decode(in)
	if res.Outcome != device.Record {
		t.Fatalf("outcome %v err %v", res.Outcome, res.Err)
	}
	if res.Position.Network != nil {
		t.Errorf("network %+v", res.Position.Network)
	}
	if res.Position.Attributes[position.KEY_INPUT] != int64(5) {
		t.Errorf("input %v", res.Position.Attributes[position.KEY_INPUT])
	}
}
