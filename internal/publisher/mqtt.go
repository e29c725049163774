package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jgoulah/plugshare/internal/config"
	"github.com/jgoulah/plugshare/pkg/models"
)

const publishTimeout = 5 * time.Second

// MQTT publishes device state changes to a broker
type MQTT struct {
	client      mqtt.Client
	topicPrefix string
}

// NewMQTT connects to the configured broker
func NewMQTT(cfg config.MQTTConfig, topicPrefix string) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID("plugshare-" + uuid.NewString()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	return NewMQTTWithClient(client, topicPrefix), nil
}

// NewMQTTWithClient wraps an existing client
func NewMQTTWithClient(client mqtt.Client, topicPrefix string) *MQTT {
	return &MQTT{client: client, topicPrefix: topicPrefix}
}

// StateEvent is the retained payload describing a device's current state
type StateEvent struct {
	DeviceID         string           `json:"device_id"`
	Alias            string           `json:"alias,omitempty"`
	State            string           `json:"state"` // "on", "off" or "overdue"
	UserEmail        string           `json:"user_email,omitempty"`
	StartDate        *time.Time       `json:"start_date,omitempty"`
	EndDate          *time.Time       `json:"end_date,omitempty"`
	EstimatedUseTime *time.Time       `json:"estimated_use_time,omitempty"`
	Consumption      *decimal.Decimal `json:"consumption,omitempty"`
	Charge           *decimal.Decimal `json:"charge,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// StateTopic returns the retained state topic for a device
func (p *MQTT) StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/state", p.topicPrefix, deviceID)
}

// OverdueTopic returns the topic overdue sessions are announced on
func (p *MQTT) OverdueTopic(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/overdue", p.topicPrefix, deviceID)
}

// DeviceTurnedOn publishes the busy state with the owner and estimate
func (p *MQTT) DeviceTurnedOn(ctx context.Context, view *models.ActiveDevice) error {
	ev := newEvent(view, "on")
	return p.publish(ctx, p.StateTopic(view.DeviceID), true, ev)
}

// DeviceTurnedOff publishes the free state with the closed session's totals
func (p *MQTT) DeviceTurnedOff(ctx context.Context, view *models.ActiveDevice) error {
	ev := newEvent(view, "off")
	if u := view.UsageRecord; u != nil {
		end := u.EndDate
		ev.EndDate = &end
		ev.Consumption = &u.Consumption
		ev.Charge = &u.Charge
	}
	return p.publish(ctx, p.StateTopic(view.DeviceID), true, ev)
}

// SessionOverdue announces a session still open past its estimated use time
func (p *MQTT) SessionOverdue(ctx context.Context, view *models.ActiveDevice) error {
	return p.publish(ctx, p.OverdueTopic(view.DeviceID), false, newEvent(view, "overdue"))
}

func newEvent(view *models.ActiveDevice, state string) StateEvent {
	ev := StateEvent{DeviceID: view.DeviceID, State: state, Timestamp: time.Now().UTC()}
	if view.Device != nil {
		ev.Alias = view.Device.Alias
	}
	if u := view.UsageRecord; u != nil {
		start := u.StartDate
		ev.UserEmail = u.UserEmail
		ev.StartDate = &start
		ev.EstimatedUseTime = u.EstimatedUseTime
	}
	return ev
}

func (p *MQTT) publish(ctx context.Context, topic string, retained bool, ev StateEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	token := p.client.Publish(topic, 1, retained, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publishing to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the MQTT broker
func (p *MQTT) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
