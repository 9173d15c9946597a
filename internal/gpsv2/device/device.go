package device

import (
	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/gpsv2/photo"
	"nuha.dev/textgps/internal/gpsv2/position"
)

const (
	PROTOCOL_FIFOTRACK string = "fifotrack"
	PROTOCOL_ITS       string = "its"
)

// Outcome tells what a decode call did with its sentence.
type Outcome int

const (
	Record Outcome = iota
	Control
	Mismatch
	UnknownDevice
	Malformed
	Ignored
)

var outcome_names = [...]string{"record", "control", "mismatch", "unknown_device", "malformed", "ignored"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcome_names) {
		return "invalid"
	}
	return outcome_names[o]
}

// Outcomes lists every outcome, in order.
func Outcomes() []Outcome {
	return []Outcome{Record, Control, Mismatch, UnknownDevice, Malformed, Ignored}
}

// Result is what a decoder hands back for one sentence. Replies must be
// written to the device even when no record was produced.
type Result struct {
	Outcome  Outcome
	Position *position.Position
	Photo    *photo.Photo
	Replies  [][]byte
	Err      error
}

func (r *Result) MarshalObject(e *log.Entry) {
	e.Str("outcome", r.Outcome.String()).Int("replies", len(r.Replies))
	if r.Err != nil {
		e.Str("detail", r.Err.Error())
	}
}

// Decoder turns sentences of one connection into results. Decode is called
// from a single goroutine and must never block.
type Decoder interface {
	Protocol() string
	Decode(sentence string) Result
	Close()
}

// Resolver maps the identifier a device reports to its numeric handle. It
// must answer from memory.
type Resolver interface {
	Resolve(protocol, unique_id string) (uint64, bool)
}

type ResolverFunc func(protocol, unique_id string) (uint64, bool)

func (f ResolverFunc) Resolve(protocol, unique_id string) (uint64, bool) {
	return f(protocol, unique_id)
}

type DeviceConfig struct {
	AllowConnect bool   `json:"allow_connect" yaml:"allow_connect"`
	Store        bool   `json:"store" yaml:"store"`
	Broadcast    bool   `json:"broadcast" yaml:"broadcast"`
	LogLevel     string `json:"log_level" yaml:"log_level"`
}

func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{AllowConnect: true, Store: true, Broadcast: true, LogLevel: "info"}
}
