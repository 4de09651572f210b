package linekit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/linekit/mqtt"
)

// mqttBridge mirrors observed edge events to the broker and accepts pin set
// commands. Mirroring is a copy of the event stream; it never consumes the
// drainable queue.
type mqttBridge struct {
	kit        *LineKit
	client     *mqtt.Client
	eventTopic string
	setTopic   string
	logger     *log.Logger
}

type setCommand struct {
	PinNum *int `json:"pin_num"`
	State  *int `json:"state"`
}

// InitMqtt connects to the configured broker, wires event mirroring and
// subscribes to the set command topic. Call after Setup and before Supervise.
func (kit *LineKit) InitMqtt(ctx context.Context) error {
	if len(kit.MqttBroker) == 0 {
		return errors.New("mqtt broker not set")
	}

	client, err := mqtt.NewClient(kit.MqttBroker, kit.name())
	if err != nil {
		return errors.Wrap(err, "failed to create mqtt client")
	}
	kit.mqttClient = client

	bridge := &mqttBridge{
		kit:        kit,
		client:     client,
		eventTopic: fmt.Sprintf("linekit/%s/events", kit.name()),
		setTopic:   fmt.Sprintf("linekit/%s/pin/set", kit.name()),
		logger:     kit.logger.WithPrefix("mqtt"),
	}
	kit.monitor.AddSink(bridge)

	err = client.Connect(ctx, []mqtt.Handler{bridge})

	return errors.Wrap(err, "failed to connect to mqtt broker")
}

func (b *mqttBridge) PublishEdge(event EdgeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("failed to marshal edge event", "err", err)
		return
	}
	err = b.client.Publish(b.eventTopic, payload)
	if err != nil {
		b.logger.Warn("failed to publish edge event", "pin", event.Pin, "err", err)
	}
}

func (b *mqttBridge) Topic() string {
	return b.setTopic
}

func (b *mqttBridge) Handle(pub *paho.Publish) {
	cmd := setCommand{}
	err := json.Unmarshal(pub.Payload, &cmd)
	if err != nil {
		b.logger.Warn("discarding malformed set command", "err", err)
		return
	}
	if cmd.PinNum == nil || cmd.State == nil {
		b.logger.Warn("discarding set command with missing fields", "payload", string(pub.Payload))
		return
	}

	err = b.kit.SetPin(*cmd.PinNum, *cmd.State)
	if err != nil {
		b.logger.Warn("set command failed", "pin", *cmd.PinNum, "err", err)
		return
	}
	b.logger.Debug("set command applied", "pin", *cmd.PinNum, "state", *cmd.State)
}
