package transport

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PoolThreshold is the device count above which the fleet shares pooled
// broker connections instead of opening one per device. Large fleets
// otherwise exhaust file descriptors.
const PoolThreshold = 50

// PoolOptions configures the shared broker sessions. Pooled connections
// authenticate with the shared ingest credentials; individual devices
// still sign their own envelopes.
type PoolOptions struct {
	Host       string
	Port       int
	CACertPath string
	Username   string
	Password   string
}

// MQTTPool is a fixed set of broker connections handed out round-robin.
// Publishes on one connection are serialized by paho; devices on
// different connections transmit concurrently.
type MQTTPool struct {
	clients []mqtt.Client
	mu      sync.Mutex
	next    int
}

// PoolSizeFor returns the pool size for a fleet: 5% of the device count,
// clamped to [10, 50].
func PoolSizeFor(devices int) int {
	size := devices / 20
	if size < 10 {
		size = 10
	}
	if size > 50 {
		size = 50
	}
	return size
}

// NewMQTTPool connects size shared TLS sessions.
func NewMQTTPool(size int, opts PoolOptions) (*MQTTPool, error) {
	tlsCfg, err := NewTLSConfig(opts.CACertPath)
	if err != nil {
		return nil, err
	}
	pool := &MQTTPool{}
	for i := 0; i < size; i++ {
		clientOpts := mqtt.NewClientOptions().
			AddBroker(fmt.Sprintf("ssl://%s:%d", opts.Host, opts.Port)).
			SetClientID(fmt.Sprintf("pool-%d-%d", i, time.Now().Unix())).
			SetUsername(opts.Username).
			SetPassword(opts.Password).
			SetTLSConfig(tlsCfg).
			SetKeepAlive(keepAlive).
			SetConnectTimeout(connectTimeout).
			SetAutoReconnect(true).
			SetMaxReconnectInterval(reconnectMaxInterval)

		client := mqtt.NewClient(clientOpts)
		token := client.Connect()
		if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
			pool.Close()
			return nil, fmt.Errorf("%w: pool connection %d failed", ErrTransient, i)
		}
		pool.clients = append(pool.clients, client)
	}
	return pool, nil
}

// Get returns the next pooled connection round-robin.
func (p *MQTTPool) Get() mqtt.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	client := p.clients[p.next%len(p.clients)]
	p.next++
	return client
}

// Size returns the number of pooled connections.
func (p *MQTTPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Close disconnects every pooled session.
func (p *MQTTPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if c.IsConnected() {
			c.Disconnect(250)
		}
	}
	p.clients = nil
}
