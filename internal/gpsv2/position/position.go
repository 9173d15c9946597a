package position

import (
	"time"

	"github.com/phuslu/log"
)

const (
	KEY_ALARM            = "alarm"
	KEY_STATUS           = "status"
	KEY_INPUT            = "input"
	KEY_OUTPUT           = "output"
	KEY_ODOMETER         = "odometer"
	KEY_DRIVER_UNIQUE_ID = "driverUniqueId"
	KEY_SATELLITES       = "sat"
	KEY_IGNITION         = "ignition"
	KEY_CHARGE           = "charge"
	KEY_POWER            = "power"
	KEY_BATTERY          = "battery"
	KEY_EVENT            = "event"
	KEY_RSSI             = "rssi"
	KEY_ARCHIVE          = "archive"
	PREFIX_ADC           = "adc"
	PREFIX_IO            = "io"
	ALARM_SOS            = "sos"
	ALARM_LOW_BATTERY    = "lowBattery"
	ALARM_BRAKING        = "hardBraking"
	ALARM_ACCELERATION   = "hardAcceleration"
	ALARM_CORNERING      = "hardCornering"
	ALARM_OVERSPEED      = "overspeed"
	knotsPerKph          = 0.539957
)

// KnotsFromKph converts km/h to knots.
func KnotsFromKph(v float64) float64 {
	return v * knotsPerKph
}

type CellTower struct {
	MCC    int `json:"mcc" bson:"mcc"`
	MNC    int `json:"mnc" bson:"mnc"`
	LAC    int `json:"lac" bson:"lac"`
	CID    int `json:"cid" bson:"cid"`
	Signal int `json:"signal,omitempty" bson:"signal,omitempty"`
}

type Network struct {
	CellTowers []CellTower `json:"cellTowers" bson:"cell_towers"`
}

func NewNetwork(towers ...CellTower) *Network {
	return &Network{CellTowers: towers}
}

// Position is the normalized output of a location decode. It must not be
// modified once handed downstream.
type Position struct {
	ID         string                 `json:"id" bson:"_id"`
	Protocol   string                 `json:"protocol" bson:"protocol"`
	DeviceID   uint64                 `json:"deviceId" bson:"device_id"`
	UniqueID   string                 `json:"uniqueId" bson:"unique_id"`
	DeviceTime time.Time              `json:"deviceTime" bson:"device_time"`
	ServerTime time.Time              `json:"serverTime" bson:"server_time"`
	Valid      bool                   `json:"valid" bson:"valid"`
	Latitude   float64                `json:"latitude" bson:"latitude"`
	Longitude  float64                `json:"longitude" bson:"longitude"`
	Altitude   float64                `json:"altitude" bson:"altitude"`
	Speed      float64                `json:"speed" bson:"speed"`
	Course     float64                `json:"course" bson:"course"`
	Network    *Network               `json:"network,omitempty" bson:"network,omitempty"`
	Attributes map[string]interface{} `json:"attributes" bson:"attributes"`
}

func New(protocol string, device_id uint64, unique_id string) *Position {
	return &Position{
		ID:         NextID(),
		Protocol:   protocol,
		DeviceID:   device_id,
		UniqueID:   unique_id,
		ServerTime: time.Now().UTC(),
		Attributes: make(map[string]interface{}),
	}
}

// Set stores an attribute. Nil values and empty strings are not stored.
func (p *Position) Set(key string, value interface{}) {
	switch v := value.(type) {
	case nil:
		return
	case string:
		if v == "" {
			return
		}
	}
	p.Attributes[key] = value
}

func (p *Position) Has(key string) bool {
	_, ok := p.Attributes[key]
	return ok
}

func (p *Position) MarshalObject(e *log.Entry) {
	e.Str("id", p.ID).Str("protocol", p.Protocol).Uint64("device_id", p.DeviceID).
		Time("device_time", p.DeviceTime).Bool("valid", p.Valid).
		Float64("lat", p.Latitude).Float64("lon", p.Longitude).Float64("speed", p.Speed)
}
