package its

import (
	"strconv"
	"strings"

	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/gpsv2/device"
	"nuha.dev/textgps/internal/gpsv2/pattern"
	"nuha.dev/textgps/internal/gpsv2/position"
)

const (
	LOGIN_PREFIX string = "$,01,"
	LOGIN_ACK    string = "$,1,*"
)

type Its struct {
	resolver device.Resolver
	log      log.Logger
}

func NewIts(cid uint64, resolver device.Resolver, logger log.Logger) *Its {
	o := &Its{resolver: resolver}
	o.log = logger
	o.log.Context = log.NewContext(nil).Str("module", device.PROTOCOL_ITS).Uint64("cid", cid).Value()
	return o
}

func (d *Its) Protocol() string {
	return device.PROTOCOL_ITS
}

func (d *Its) Close() {}

// DecodeAlarm maps a status code to an alarm. Unknown codes map to "".
func DecodeAlarm(status string) string {
	switch status {
	case "WD", "EA":
		return position.ALARM_SOS
	case "BL":
		return position.ALARM_LOW_BATTERY
	case "HB":
		return position.ALARM_BRAKING
	case "HA":
		return position.ALARM_ACCELERATION
	case "RT":
		return position.ALARM_CORNERING
	case "OS":
		return position.ALARM_OVERSPEED
	default:
		return ""
	}
}

func (d *Its) Decode(sentence string) device.Result {
	var replies [][]byte
	if strings.HasPrefix(sentence, LOGIN_PREFIX) {
		d.log.Trace().Msg("acknowledging login")
		replies = [][]byte{[]byte(LOGIN_ACK)}
	}
	res := d.decodeLocation(sentence)
	res.Replies = replies
	if res.Outcome == device.Mismatch && replies != nil {
		res.Outcome = device.Control
	}
	return res
}

func (d *Its) decodeLocation(sentence string) device.Result {
	r, ok := locationPattern.Parse(sentence)
	if !ok {
		return device.Result{Outcome: device.Mismatch}
	}

	imei := r.Next()
	tid, ok := d.resolver.Resolve(device.PROTOCOL_ITS, imei)
	if !ok {
		return device.Result{Outcome: device.UnknownDevice}
	}

	pos := position.New(device.PROTOCOL_ITS, tid, imei)

	switch r.Branch("state") {
	case 0:
		pos.Set(position.KEY_ALARM, DecodeAlarm(r.Next()))
	case 1:
		pos.Valid = r.Int(0) == 1
	}

	order := pattern.DMY
	if r.Branch("date") == 0 {
		order = pattern.YMD
	}
	pos.DeviceTime = r.DateTime(order)

	if r.Branch("validity") == 0 {
		pos.Valid = r.Next() == "A"
	}
	pos.Latitude = r.Coordinate(pattern.DEG_HEM)
	pos.Longitude = r.Coordinate(pattern.DEG_HEM)

	switch r.Branch("motion") {
	case 0:
		pos.Speed = position.KnotsFromKph(r.Float(0))
		pos.Course = r.Float(0)
		pos.Set(position.KEY_SATELLITES, r.Int(0))
		if r.Branch("telemetry") == 0 {
			pos.Altitude = r.Float(0)
			pos.Set(position.KEY_IGNITION, r.Int(0) > 0)
			pos.Set(position.KEY_CHARGE, r.Int(0) > 0)
			pos.Set(position.KEY_POWER, r.Float(0))
			pos.Set(position.KEY_BATTERY, r.Float(0))
			pos.Network = mainCell(r)
			pos.Set(position.KEY_INPUT, r.Bin(0))
			pos.Set(position.KEY_OUTPUT, r.Bin(0))
		}
	case 1:
		pos.Altitude = r.Float(0)
		pos.Speed = position.KnotsFromKph(r.Float(0))
	}

	if err := r.Err(); err != nil {
		return device.Result{Outcome: device.Malformed, Err: err}
	}
	return device.Result{Outcome: device.Record, Position: pos}
}

// mainCell reads signal, mcc, mnc, lac and cid. Some firmware reports the
// first three in hex, the cell is then left out rather than failing the fix.
func mainCell(r *pattern.Parser) *position.Network {
	signal, err1 := strconv.Atoi(r.Next())
	mcc, err2 := strconv.Atoi(r.Next())
	mnc, err3 := strconv.Atoi(r.Next())
	lac := int(r.Hex(0))
	cid := int(r.Hex(0))
	if err1 != nil || err2 != nil || err3 != nil {
		return nil
	}
	return position.NewNetwork(position.CellTower{MCC: mcc, MNC: mnc, LAC: lac, CID: cid, Signal: signal})
}
