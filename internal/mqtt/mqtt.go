// Package mqtt wraps the paho client for the optional broker transport.
package mqtt

import (
	"errors"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	connectTimeout = 15 * time.Second
	defaultQoS     = 1
)

var ErrConnectTimeout = errors.New("mqtt connect timed out")

// Client remembers its subscriptions and restores them on every reconnect.
type Client struct {
	client paho.Client

	mu   sync.Mutex
	subs map[string]paho.MessageHandler
}

type subscriber interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Message adapts a paho message to ingest.MQTTMessage.
type Message struct {
	paho.Message
}

// NormalizeBrokerURL maps mqtt:// to the tcp:// scheme paho expects.
func NormalizeBrokerURL(brokerURL string) string {
	url := strings.TrimSpace(brokerURL)
	if strings.HasPrefix(url, "mqtt://") {
		url = "tcp://" + strings.TrimPrefix(url, "mqtt://")
	}
	return url
}

// Connect dials brokerURL. An empty clientID gets a random one with the
// given prefix.
func Connect(brokerURL, clientPrefix, clientID string) (*Client, error) {
	c := &Client{subs: make(map[string]paho.MessageHandler)}
	opts := paho.NewClientOptions()
	opts.AddBroker(NormalizeBrokerURL(brokerURL))
	if strings.TrimSpace(clientID) == "" {
		clientID = clientPrefix + "-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	}
	opts.OnConnect = func(pc paho.Client) {
		log.WithField("client_id", clientID).Info("MQTT connected")
		c.resubscribe(pc)
	}

	c.client = paho.NewClient(opts)
	tok := c.client.Connect()
	if ok := tok.WaitTimeout(connectTimeout); !ok {
		c.client.Disconnect(0)
		return nil, ErrConnectTimeout
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

// Subscribe registers handler for topic and keeps it across reconnects.
func (c *Client) Subscribe(topic string, handler func(Message)) error {
	cb := c.track(topic, handler)
	tok := c.client.Subscribe(topic, defaultQoS, cb)
	tok.Wait()
	return tok.Error()
}

func (c *Client) track(topic string, handler func(Message)) paho.MessageHandler {
	cb := func(_ paho.Client, msg paho.Message) {
		handler(Message{Message: msg})
	}
	c.mu.Lock()
	c.subs[topic] = cb
	c.mu.Unlock()
	return cb
}

// resubscribe re-issues every tracked subscription on (re)connect. Acks are
// awaited in the background so OnConnect returns immediately.
func (c *Client) resubscribe(s subscriber) {
	c.mu.Lock()
	subs := make(map[string]paho.MessageHandler, len(c.subs))
	for topic, cb := range c.subs {
		subs[topic] = cb
	}
	c.mu.Unlock()

	for topic, cb := range subs {
		tok := s.Subscribe(topic, defaultQoS, cb)
		go func() {
			tok.Wait()
			if err := tok.Error(); err != nil {
				log.WithError(err).WithField("topic", topic).Error("MQTT resubscribe failed")
				return
			}
			log.WithField("topic", topic).Info("MQTT subscription restored")
		}()
	}
}

// Publish sends payload without the retained flag and waits for the broker
// acknowledgement.
func (c *Client) Publish(topic string, payload []byte) error {
	tok := c.client.Publish(topic, defaultQoS, false, payload)
	tok.Wait()
	return tok.Error()
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(1000)
}
