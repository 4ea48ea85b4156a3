// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package telemetry publishes speed samples to an MQTT broker.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ffutop/modbus-tachometer/internal/config"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 5 * time.Second
	pendingSamples = 4
)

var (
	// ErrPublishTimeout is returned when the broker does not acknowledge in time.
	ErrPublishTimeout = errors.New("telemetry: publish timeout")
	// ErrBacklog is returned when samples are still waiting for the broker.
	ErrBacklog = errors.New("telemetry: publish backlog full, sample dropped")
)

// Sample is one published reading.
type Sample struct {
	RPM       float32   `json:"rpm"`
	Speed     float32   `json:"speed"`
	Unit      string    `json:"unit"`
	Frequency float32   `json:"frequency"`
	Signal    bool      `json:"signal"`
	Timestamp time.Time `json:"ts"`
}

// PublishFunc delivers one encoded sample to topic.
type PublishFunc func(topic string, payload []byte) error

// Publisher sends samples to one topic. A Publisher built without a
// broker is disabled and drops every sample. Samples are handed to a
// sender goroutine so Publish never waits on the broker.
type Publisher struct {
	topic     string
	client    mqtt.Client
	publish   PublishFunc
	connected atomic.Bool

	pending chan []byte
	done    chan struct{}
	close   sync.Once
}

// New builds a publisher from cfg. It does not connect.
func New(cfg config.TelemetryConfig) *Publisher {
	p := &Publisher{topic: cfg.Topic}
	if cfg.Broker == "" {
		return p
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		p.connected.Store(true)
		slog.Info("MQTT connected", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.connected.Store(false)
		slog.Warn("MQTT connection lost", "broker", cfg.Broker, "err", err)
	}
	p.client = mqtt.NewClient(opts)
	p.start(p.mqttPublish)
	return p
}

// NewFunc builds an enabled publisher that delivers through publish
// instead of an MQTT client.
func NewFunc(topic string, publish PublishFunc) *Publisher {
	p := &Publisher{topic: topic}
	p.start(publish)
	return p
}

func (p *Publisher) start(publish PublishFunc) {
	p.publish = publish
	p.pending = make(chan []byte, pendingSamples)
	p.done = make(chan struct{})
	go p.send()
}

func (p *Publisher) send() {
	defer close(p.done)
	for payload := range p.pending {
		if err := p.publish(p.topic, payload); err != nil {
			slog.Warn("Failed to publish telemetry", "topic", p.topic, "err", err)
		}
	}
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool { return p.publish != nil }

// Connect starts the broker connection. With connect retry enabled the
// client keeps trying in the background after the first attempt times out.
func (p *Publisher) Connect() error {
	if p.client == nil {
		return nil
	}
	token := p.client.Connect()
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		return fmt.Errorf("failed to connect to broker: %w", token.Error())
	}
	return nil
}

func (p *Publisher) mqttPublish(topic string, payload []byte) error {
	if !p.connected.Load() {
		return nil
	}
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Publish encodes s as JSON and queues it for the sender. It returns
// ErrBacklog without blocking when earlier samples are still in flight.
func (p *Publisher) Publish(s Sample) error {
	if p.publish == nil {
		return nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}
	select {
	case p.pending <- payload:
		return nil
	default:
		return ErrBacklog
	}
}

// Close stops the sender and disconnects. Publish must not be called after Close.
func (p *Publisher) Close() {
	p.close.Do(func() {
		if p.pending != nil {
			close(p.pending)
			<-p.done
		}
		if p.client != nil {
			p.client.Disconnect(250)
		}
	})
}
