package broker

import (
	"strconv"

	"github.com/nats-io/nats.go"
)

type NatsPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NatsSubject(prefix, protocol string, device_id uint64) string {
	return prefix + "." + protocol + "." + strconv.FormatUint(device_id, 10)
}

func NewNatsPublisher(url string, prefix string) (*NatsPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("gpstracker"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "gps"
	}
	return &NatsPublisher{nc: nc, prefix: prefix}, nil
}

func (p *NatsPublisher) Publish(protocol string, device_id uint64, data []byte) error {
	return p.nc.Publish(NatsSubject(p.prefix, protocol, device_id), data)
}

func (p *NatsPublisher) Close() {
	_ = p.nc.Drain()
}
