// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Compile-time interface check.
var _ Bus = (*MQTT)(nil)

// connectTimeout bounds broker connection and subscription token
// waits. The broker is on the local network; anything slower than this
// is effectively down.
const connectTimeout = 10 * time.Second

// MQTT is the production Bus backed by an MQTT broker connection.
type MQTT struct {
	client mqtt.Client
	logger *slog.Logger
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	// Address is the broker host or IP.
	Address string

	// Port is the broker port.
	Port int

	// Username and Password are optional broker credentials.
	Username string
	Password string

	// ClientID identifies this process to the broker.
	ClientID string
}

// DialMQTT connects to the broker and returns a Bus. The client
// auto-reconnects and re-subscribes on connection loss.
func DialMQTT(opts MQTTOptions, logger *slog.Logger) (*MQTT, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Address, opts.Port)).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetResumeSubs(true)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("bus connection lost", "error", err)
	}
	clientOpts.OnConnect = func(mqtt.Client) {
		logger.Info("bus connected", "broker", opts.Address, "port", opts.Port)
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connecting to broker %s:%d: timeout after %s", opts.Address, opts.Port, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to broker %s:%d: %w", opts.Address, opts.Port, err)
	}

	return &MQTT{client: client, logger: logger}, nil
}

func (b *MQTT) Subscribe(filter string, handler Handler) error {
	token := b.client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(Message{Topic: msg.Topic(), Payload: msg.Payload()})
	})
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("subscribing to %q: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %q: %w", filter, err)
	}
	return nil
}

func (b *MQTT) Unsubscribe(filter string) error {
	token := b.client.Unsubscribe(filter)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("unsubscribing from %q: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("unsubscribing from %q: %w", filter, err)
	}
	return nil
}

func (b *MQTT) Publish(topic string, payload []byte) error {
	token := b.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("publishing to %q: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %q: %w", topic, err)
	}
	return nil
}

func (b *MQTT) Close() {
	b.client.Disconnect(250)
}
