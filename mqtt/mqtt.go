package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const topicRoot = "swipeclock"

// Client is the kiosk's uplink: it publishes swipe events under the
// node's status topics and routes control topics to handlers.
type Client struct {
	client       paho.Client
	clientID     string
	enabled      bool
	onConnect    func()
	onDisconnect func()

	mu     sync.Mutex
	routes map[string]func(payload []byte)
}

// Config holds MQTT connection settings.
type Config struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// Handlers holds callback functions for connection state changes.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func()
}

// New creates a new MQTT client. Returns a disabled no-op client if host is empty.
func New(cfg Config, clientID string, handlers Handlers) (*Client, error) {
	c := &Client{
		clientID:     clientID,
		onConnect:    handlers.OnConnect,
		onDisconnect: handlers.OnDisconnect,
		routes:       make(map[string]func([]byte)),
	}

	if cfg.Host == "" {
		log.Println("MQTT disabled (no host configured)")
		return c, nil
	}
	c.enabled = true

	broker, tlsConfig, err := brokerURL(cfg)
	if err != nil {
		return nil, err
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect).
		SetDefaultPublishHandler(c.handleMessage)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(opts)

	paho.ERROR = log.New(os.Stdout, "[MQTT ERROR] ", 0)
	paho.CRITICAL = log.New(os.Stdout, "[MQTT CRIT] ", 0)
	paho.WARN = log.New(os.Stdout, "[MQTT WARN] ", 0)

	return c, nil
}

// brokerURL picks ssl:// when any certificate is configured, tcp://
// otherwise.
func brokerURL(cfg Config) (string, *tls.Config, error) {
	if cfg.CACert == "" && cfg.ClientCert == "" {
		port := cfg.Port
		if port == 0 {
			port = 1883
		}
		log.Println("MQTT using non-TLS connection")
		return fmt.Sprintf("tcp://%s:%d", cfg.Host, port), nil, nil
	}

	port := cfg.Port
	if port == 0 {
		port = 8883
	}
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return "", nil, fmt.Errorf("build TLS config: %w", err)
	}
	return fmt.Sprintf("ssl://%s:%d", cfg.Host, port), tlsConfig, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// StatusTopic is where this node publishes, e.g.
// swipeclock/status/node/<client_id>/swipe.
func (c *Client) StatusTopic(name string) string {
	return fmt.Sprintf("%s/status/node/%s/%s", topicRoot, c.clientID, name)
}

// ControlTopic is where this node takes commands, e.g.
// swipeclock/control/node/<client_id>/card/register.
func (c *Client) ControlTopic(name string) string {
	return fmt.Sprintf("%s/control/node/%s/%s", topicRoot, c.clientID, name)
}

// Handle routes messages on topic to fn. Routes are (re)subscribed on
// every connect.
func (c *Client) Handle(topic string, fn func(payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[topic] = fn
}

// Connect connects to the MQTT broker. If disabled, calls onConnect immediately.
func (c *Client) Connect() error {
	if !c.enabled {
		// Simulate a successful connection so the kiosk leaves the
		// connection-lost state.
		if c.onConnect != nil {
			c.onConnect()
		}
		return nil
	}

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	log.Println("MQTT connected")
	return nil
}

// Disconnect disconnects from the MQTT broker. No-op if disabled.
func (c *Client) Disconnect() {
	if !c.enabled || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// Subscribe subscribes to a topic. No-op if disabled.
func (c *Client) Subscribe(topic string) error {
	if !c.enabled {
		return nil
	}

	if token := c.client.Subscribe(topic, 1, nil); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// Publish publishes a message to a topic. No-op if disabled.
func (c *Client) Publish(topic string, payload string) {
	if !c.enabled {
		return
	}
	c.client.Publish(topic, 0, false, payload)
}

// PublishJSON publishes v encoded as JSON. No-op if disabled.
func (c *Client) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	c.Publish(topic, string(payload))
	return nil
}

// IsEnabled returns whether MQTT is enabled.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

func (c *Client) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.routes))
	for t := range c.routes {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (c *Client) handleConnect(client paho.Client) {
	log.Println("MQTT connection established")
	for _, topic := range c.topics() {
		if err := c.Subscribe(topic); err != nil {
			log.Printf("Subscribe error: %v", err)
		}
	}
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) handleConnectionLost(client paho.Client, err error) {
	log.Printf("MQTT connection lost: %v", err)
	if c.onDisconnect != nil {
		c.onDisconnect()
	}
}

func (c *Client) handleMessage(client paho.Client, msg paho.Message) {
	c.dispatch(msg.Topic(), msg.Payload())
}

// dispatch reports whether a route took the message.
func (c *Client) dispatch(topic string, payload []byte) bool {
	c.mu.Lock()
	fn := c.routes[topic]
	c.mu.Unlock()

	if fn == nil {
		log.Printf("MQTT message on unrouted topic %s", topic)
		return false
	}
	fn(payload)
	return true
}
