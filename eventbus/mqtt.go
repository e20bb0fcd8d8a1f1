// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package eventbus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/logger"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second

	// SourceMQTT marks events that arrived over the bridge.
	SourceMQTT = "mqtt"
)

// BridgeConfig holds MQTT bridge settings.
type BridgeConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // e.g. "octoPrint"
	QoS         byte
}

// Bridge mirrors host events between MQTT and the local bus.
//
// Inbound: "<prefix>/event/<Name>" messages for known events are republished locally.
// Outbound: PoweredOn/PoweredOff go to "<prefix>/powermanager/event/<Name>" and
// notifications to "<prefix>/powermanager/notification".
type Bridge struct {
	cfg    BridgeConfig
	client mqtt.Client
	bus    interfaces.EventBus
	log    zerolog.Logger

	cancelSub func()
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewBridge creates a bridge with a paho client for cfg.Broker.
func NewBridge(cfg BridgeConfig, bus interfaces.EventBus) *Bridge {
	b := &Bridge{cfg: cfg, bus: bus, log: logger.Component("mqtt")}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Warn().Err(err).Msg("MQTT connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	b.client = mqtt.NewClient(opts)
	return b
}

func newBridgeWithClient(cfg BridgeConfig, bus interfaces.EventBus, client mqtt.Client) *Bridge {
	return &Bridge{cfg: cfg, bus: bus, client: client, log: logger.Component("mqtt")}
}

// Start connects to the broker and begins forwarding power events.
func (b *Bridge) Start(ctx context.Context) error {
	token := b.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return errors.NewNetworkError("mqtt connect", b.cfg.Broker, errors.ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return errors.NewNetworkError("mqtt connect", b.cfg.Broker, err)
	}

	events, cancel := b.bus.Subscribe(interfaces.EventPoweredOn, interfaces.EventPoweredOff)
	b.cancelSub = cancel

	b.wg.Add(1)
	go b.forward(ctx, events)

	b.log.Info().Str("broker", b.cfg.Broker).Str("prefix", b.cfg.TopicPrefix).Msg("MQTT bridge started")
	return nil
}

// onConnect subscribes on every (re)connect since sessions are clean.
func (b *Bridge) onConnect(c mqtt.Client) {
	topic := b.cfg.TopicPrefix + "/event/+"
	token := c.Subscribe(topic, b.cfg.QoS, b.handleMessage)
	go func() {
		if !token.WaitTimeout(mqttConnectTimeout) || token.Error() != nil {
			b.log.Error().Err(token.Error()).Str("topic", topic).Msg("MQTT subscribe failed")
			return
		}
		b.log.Info().Str("topic", topic).Msg("Subscribed to host events")
	}()
}

func (b *Bridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	name := topic[strings.LastIndex(topic, "/")+1:]
	if !interfaces.IsKnownEvent(name) {
		b.log.Debug().Str("topic", topic).Msg("Ignoring unknown host event")
		return
	}

	var payload map[string]any
	if len(msg.Payload()) > 0 {
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			b.log.Warn().Err(err).Str("topic", topic).Msg("Host event payload is not a JSON object")
			payload = nil
		}
	}

	b.bus.Publish(NewEvent(name, SourceMQTT, payload))
}

func (b *Bridge) forward(ctx context.Context, events <-chan interfaces.Event) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.publish(b.cfg.TopicPrefix+"/powermanager/event/"+ev.Name, ev, true)
		}
	}
}

// Notify publishes an observer notification. It does not wait for delivery.
func (b *Bridge) Notify(msg interfaces.Message) {
	b.publish(b.cfg.TopicPrefix+"/powermanager/notification", msg, false)
}

func (b *Bridge) publish(topic string, v any, wait bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Error().Err(err).Str("topic", topic).Msg("Error marshalling MQTT payload")
		return
	}

	token := b.client.Publish(topic, b.cfg.QoS, false, payload)
	if !wait {
		return
	}
	if !token.WaitTimeout(mqttPublishTimeout) {
		b.log.Warn().Str("topic", topic).Msg("MQTT publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		b.log.Error().Err(err).Str("topic", topic).Msg("Failed to publish to MQTT")
	}
}

// Stop ends forwarding and disconnects from the broker.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.cancelSub != nil {
			b.cancelSub()
		}
		b.wg.Wait()
		b.client.Disconnect(250)
		b.log.Info().Msg("MQTT bridge stopped")
	})
}
