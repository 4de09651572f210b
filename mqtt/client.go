package mqtt

import (
	"context"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"
)

const subscribeTimeoutSeconds = 15
const connectionTimeoutSeconds = 5
const publishTimeoutSeconds = 4

// Handler consumes messages arriving on one subscribed topic filter.
type Handler interface {
	Topic() string
	Handle(pub *paho.Publish)
}

// Publisher is the outbound side of the client.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Client is a reconnecting MQTT client. Subscriptions are re-established on
// every connection, so handlers survive broker restarts.
type Client struct {
	config   autopaho.ClientConfig
	conn     *autopaho.ConnectionManager
	logger   *log.Logger
	handlers []Handler
}

func NewClient(broker string, clientId string) (*Client, error) {
	addr, err := url.Parse(broker)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse broker url %q", broker)
	}

	client := &Client{
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "mqtt",
			Level:  log.GetLevel(),
		}),
	}

	client.config = autopaho.ClientConfig{
		BrokerUrls:            []*url.URL{addr},
		KeepAlive:             20,
		SessionExpiryInterval: 60,
		OnConnectionUp:        client.onConnUp,
		OnConnectError:        client.onConnError,
		ClientConfig: paho.ClientConfig{
			ClientID:           clientId,
			OnClientError:      client.onConnError,
			OnServerDisconnect: client.onSrvDisconnect,
			OnPublishReceived:  client.onPublishRecv(),
		},
	}

	return client, nil
}

// Connect dials the broker and keeps the connection up. Handlers must be
// passed here; their topics are subscribed on every connection up.
func (c *Client) Connect(ctx context.Context, handlers []Handler) error {
	c.handlers = handlers

	connectCtx, cancel := context.WithTimeout(ctx, connectionTimeoutSeconds*time.Second)
	defer cancel()

	conn, err := autopaho.NewConnection(ctx, c.config)
	if err != nil {
		return errors.Wrap(err, "failed to create mqtt connection")
	}
	c.conn = conn

	return errors.Wrap(conn.AwaitConnection(connectCtx), "timed out awaiting mqtt connection")
}

func (c *Client) Publish(topic string, payload []byte) error {
	if c.conn == nil {
		return errors.New("mqtt client not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeoutSeconds*time.Second)
	defer cancel()

	_, err := c.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	})

	return err
}

func (c *Client) Disconnect(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}

	return c.conn.Disconnect(ctx)
}

func (c *Client) onConnUp(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
	c.logger.Info("connected to mqtt broker")

	if len(c.handlers) == 0 {
		return
	}
	subs := []paho.SubscribeOptions{}
	for _, handler := range c.handlers {
		subs = append(subs, paho.SubscribeOptions{
			QoS:   1,
			Topic: handler.Topic(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeoutSeconds*time.Second)
	defer cancel()

	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: subs,
	})
	if err != nil {
		c.logger.Error("failed to subscribe to topics", "err", err)
		return
	}
	c.logger.Debug("subscribed mqtt", "subs", subs)
}

func (c *Client) onConnError(err error) {
	c.logger.Error("mqtt connection error", "err", err)
}

func (c *Client) onSrvDisconnect(d *paho.Disconnect) {
	c.logger.Info("disconnected from mqtt broker")
}

func (c *Client) onPublishRecv() []func(paho.PublishReceived) (bool, error) {
	return []func(paho.PublishReceived) (bool, error){
		func(pr paho.PublishReceived) (bool, error) {
			handled := false
			for _, handler := range c.handlers {
				if topicMatches(handler.Topic(), pr.Packet.Topic) {
					handler.Handle(pr.Packet)
					handled = true
				}
			}
			if !handled {
				c.logger.Debug("no handler for message", "topic", pr.Packet.Topic)
			}
			return handled, nil
		},
	}
}

// topicMatches checks an incoming topic against a subscription filter with
// the usual + and # wildcards.
func topicMatches(filter, topic string) bool {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part == "+" {
			continue
		}
		if part != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}
