package broker

import (
	"errors"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrPublishTimeout = errors.New("mqtt publish timeout")

type MqttPublisher struct {
	client mqtt.Client
	prefix string
}

func MqttTopic(prefix, protocol string, device_id uint64) string {
	return prefix + "/" + protocol + "/" + strconv.FormatUint(device_id, 10)
}

func NewMqttPublisher(broker string, client_id string, prefix string) (*MqttPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(client_id).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	if prefix == "" {
		prefix = "gps"
	}
	return &MqttPublisher{client: client, prefix: prefix}, nil
}

func (p *MqttPublisher) Publish(protocol string, device_id uint64, data []byte) error {
	token := p.client.Publish(MqttTopic(p.prefix, protocol, device_id), 0, false, data)
	if !token.WaitTimeout(2 * time.Second) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (p *MqttPublisher) Close() {
	p.client.Disconnect(250)
}
