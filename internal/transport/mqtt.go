package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"paraglider-sim/internal/telemetry"
)

const (
	publishTimeout       = 10 * time.Second
	connectTimeout       = 10 * time.Second
	keepAlive            = 30 * time.Second
	reconnectInitial     = 1 * time.Second
	reconnectMaxInterval = 30 * time.Second
	qosAtLeastOnce       = 1
)

// MQTTOptions configures a per-device broker session.
type MQTTOptions struct {
	Host       string
	Port       int
	CACertPath string
	Identity   telemetry.DeviceIdentity
	Creds      telemetry.OperationalCredentials
}

// MQTTPublisher transmits signed envelopes over a TLS broker session. It
// either owns a dedicated per-device connection or borrows a pooled one;
// signing is always per-device regardless of which connection carries the
// message.
type MQTTPublisher struct {
	deviceID string
	secret   string
	apiKey   string
	client   mqtt.Client
	owned    bool
}

// NewMQTTPublisher connects a dedicated TLS session for one device using
// its registration-issued broker credentials.
func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	tlsCfg, err := NewTLSConfig(opts.CACertPath)
	if err != nil {
		return nil, err
	}
	clientOpts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s:%d", opts.Host, opts.Port)).
		SetClientID(fmt.Sprintf("%s-%d", opts.Identity.DeviceID, time.Now().Unix())).
		SetUsername(opts.Creds.MQTTUsername).
		SetPassword(opts.Creds.MQTTPassword).
		SetTLSConfig(tlsCfg).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(reconnectInitial).
		SetMaxReconnectInterval(reconnectMaxInterval)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: broker connect timed out", ErrTransient)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return &MQTTPublisher{
		deviceID: opts.Identity.DeviceID,
		secret:   opts.Identity.DeviceSecret,
		apiKey:   opts.Creds.APIKey,
		client:   client,
		owned:    true,
	}, nil
}

// NewPooledMQTTPublisher signs with the device's own secret but publishes
// through a shared pooled connection.
func NewPooledMQTTPublisher(pool *MQTTPool, id telemetry.DeviceIdentity, creds telemetry.OperationalCredentials) *MQTTPublisher {
	return &MQTTPublisher{
		deviceID: id.DeviceID,
		secret:   id.DeviceSecret,
		apiKey:   creds.APIKey,
		client:   pool.Get(),
		owned:    false,
	}
}

// PublishPoint implements Publisher.
func (p *MQTTPublisher) PublishPoint(ctx context.Context, point telemetry.GpsPoint) error {
	env, err := telemetry.NewEnvelope(point, p.secret, p.apiKey)
	if err != nil {
		return err
	}
	return p.publish(ctx, fmt.Sprintf("gps/%s/data", p.deviceID), env)
}

// PublishBatch implements Publisher.
func (p *MQTTPublisher) PublishBatch(ctx context.Context, points []telemetry.GpsPoint) error {
	if len(points) > MaxBatchPoints {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(points), MaxBatchPoints)
	}
	env, err := telemetry.NewBatchEnvelope(points, p.secret, p.apiKey)
	if err != nil {
		return err
	}
	return p.publish(ctx, fmt.Sprintf("gps/%s/data", p.deviceID), env)
}

// CloseFlight publishes the close request and waits for the backend
// confirmation on the closed topic.
func (p *MQTTPublisher) CloseFlight(ctx context.Context, flightID string) (*telemetry.FlightClosed, error) {
	confirmTopic := fmt.Sprintf("flight/%s/closed", p.deviceID)
	confirmed := make(chan telemetry.FlightClosed, 1)

	token := p.client.Subscribe(confirmTopic, qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		var c telemetry.FlightClosed
		if err := json.Unmarshal(msg.Payload(), &c); err == nil && c.FlightID == flightID {
			select {
			case confirmed <- c:
			default:
			}
		}
	})
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		return nil, fmt.Errorf("%w: subscribe %s failed", ErrTransient, confirmTopic)
	}
	defer p.client.Unsubscribe(confirmTopic)

	if err := p.publish(ctx, fmt.Sprintf("flight/%s/close", p.deviceID), telemetry.FlightClose{FlightID: flightID, APIKey: p.apiKey}); err != nil {
		return nil, err
	}

	select {
	case c := <-confirmed:
		return &c, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: no close confirmation for flight %s: %v", ErrTransient, flightID, ctx.Err())
	}
}

// Close disconnects the session if this publisher owns it.
func (p *MQTTPublisher) Close() {
	if p.owned && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	token := p.client.Publish(topic, qosAtLeastOnce, false, body)
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("%w: publish %s cancelled: %v", ErrTransient, topic, ctx.Err())
	case <-time.After(publishTimeout):
		return fmt.Errorf("%w: publish %s timed out", ErrTransient, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrTransient, topic, err)
	}
	return nil
}
