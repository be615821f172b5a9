// Package publish republishes hub envelopes to an MQTT broker so other tools
// can follow the map feed without holding a WebSocket open.
//
// Topics are <base>/<envelope type>, for example n3fjpmap/events/path.
// State envelopes (status, origin, operators and the worked sets) are
// published retained so a late subscriber sees the current picture.
package publish

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"n3fjpmap/event"
	"n3fjpmap/internal/ratelimit"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultQueue   = 1000
	publishTimeout = 5 * time.Second
)

// Publisher is a hub subscriber backed by a paho MQTT client.
type Publisher struct {
	broker   string
	port     int
	base     string
	clientID string

	client  mqtt.Client
	publish func(topic string, retained bool, payload []byte) error

	queue   chan event.Envelope
	dropped *ratelimit.Counter
}

// NewPublisher builds a publisher for broker:port rooted at topic.
func NewPublisher(broker string, port int, topic, clientID string) *Publisher {
	if clientID == "" {
		clientID = fmt.Sprintf("n3fjpmap-%d", time.Now().Unix())
	}
	return &Publisher{
		broker:   broker,
		port:     port,
		base:     strings.TrimSuffix(strings.TrimSpace(topic), "/"),
		clientID: clientID,
		queue:    make(chan event.Envelope, defaultQueue),
		dropped:  ratelimit.NewCounter(time.Minute),
	}
}

// Connect dials the broker. paho reconnects on its own afterwards.
func (p *Publisher) Connect() error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", p.broker, p.port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(p.clientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("MQTT: connected to %s, publishing under %s/", brokerURL, p.base)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT: connection lost: %v", err)
	})

	p.client = mqtt.NewClient(opts)
	log.Printf("MQTT: connecting to %s...", brokerURL)
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", brokerURL, token.Error())
	}
	p.publish = func(topic string, retained bool, payload []byte) error {
		t := p.client.Publish(topic, 0, retained, payload)
		if !t.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish %s: timed out", topic)
		}
		return t.Error()
	}
	return nil
}

// Send queues env without blocking. A full queue drops the envelope but keeps
// the publisher subscribed.
func (p *Publisher) Send(env event.Envelope) bool {
	select {
	case p.queue <- env:
	default:
		if total, suppressed, ok := p.dropped.Inc(); ok {
			log.Printf("MQTT: queue full, dropped %s envelope (total=%d suppressed=%d)", env.Type, total, suppressed)
		}
	}
	return true
}

// Dropped reports how many envelopes were discarded on a full queue.
func (p *Publisher) Dropped() uint64 { return p.dropped.Total() }

// Run drains the queue until ctx is cancelled, then disconnects.
func (p *Publisher) Run(ctx context.Context) error {
	defer func() {
		if p.client != nil {
			p.client.Disconnect(250)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-p.queue:
			if p.publish == nil {
				continue
			}
			payload, err := json.Marshal(env.Data)
			if err != nil {
				log.Printf("MQTT: encode %s: %v", env.Type, err)
				continue
			}
			if err := p.publish(p.topicFor(env.Type), retained(env.Type), payload); err != nil {
				log.Printf("MQTT: %v", err)
			}
		}
	}
}

func (p *Publisher) topicFor(kind string) string {
	if p.base == "" {
		return kind
	}
	return p.base + "/" + kind
}

func retained(kind string) bool {
	switch kind {
	case event.TypeStatus, event.TypeOrigin, event.TypeOperators,
		event.TypeSectionsWorked, event.TypeCountriesWorked:
		return true
	}
	return false
}
