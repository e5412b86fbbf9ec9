package mqttclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler is invoked for every message whose topic matches a
// registered subscription (spec.md §4.4's subscription registry). It
// runs on paho's message-delivery goroutine, not on the scheduler's
// loop goroutine, so it can run concurrently with scheduled tasks.
type MessageHandler func(topic string, payload []byte)

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// DiagnosticFunc reports a named event to an external collaborator
// (e.g. the LED status indicator spec.md §7 describes as out of
// scope); nil is a valid no-op.
type DiagnosticFunc func(event string)

// Config configures the TLS MQTT session (spec.md §4.4's Topology).
type Config struct {
	BrokerURL    string // e.g. "tls://host:8883"
	ClientID     string
	Username     string // current access token; password is always the literal "any"
	CAFile       string
	CertFile     string
	KeyFile      string
	KeepAlive    time.Duration
	TaskInterval time.Duration // loop-pump tick interval
}

// Client is the TLS MQTT session plus its subscription registry. It
// implements Recovery so an FSM can drive its lightweight/full
// recovery actions.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	diagnostic DiagnosticFunc

	mu       sync.Mutex
	paho     mqtt.Client
	subs     []subscription
	outcomes chan Outcome
	exit     func(reason string)
}

// New returns a Client that has not yet connected. Call Connect (or
// let FullReinit build it) before publishing or subscribing.
func New(cfg Config, logger *slog.Logger, diagnostic DiagnosticFunc) *Client {
	return &Client{
		cfg:        cfg,
		logger:     logger,
		diagnostic: diagnostic,
		outcomes:   make(chan Outcome, 8),
	}
}

func (c *Client) tlsConfig() (*tls.Config, error) {
	caPEM, err := os.ReadFile(c.cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("reading MQTT CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parsing MQTT CA cert %s", c.cfg.CAFile)
	}
	cert, err := tls.LoadX509KeyPair(c.cfg.CertFile, c.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading MQTT client cert/key: %w", err)
	}
	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (c *Client) buildOptions() (*mqtt.ClientOptions, error) {
	tlsCfg, err := c.tlsConfig()
	if err != nil {
		return nil, err
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword("any")
	opts.SetCleanSession(true)
	opts.SetTLSConfig(tlsCfg)
	if c.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(c.cfg.KeepAlive)
	}
	opts.SetAutoReconnect(false) // the FSM owns reconnect policy, not paho
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err)
		c.reportOutcome(classifyError(err))
	})
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		c.dispatch(msg.Topic(), msg.Payload())
	})
	return opts, nil
}

func (c *Client) reportOutcome(o Outcome) {
	select {
	case c.outcomes <- o:
	default:
		// Channel full: a pump tick will pick up a later outcome; the
		// loop thread is the only consumer so this cannot starve it
		// indefinitely.
	}
}

func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.Lock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		if s.topic == topic {
			s.handler(topic, payload)
		}
	}
}

// Connect establishes the initial TLS MQTT session. Part of the
// bootstrap gate: failure here is fatal before the scheduler starts
// (spec.md §6 exit code 1).
func (c *Client) Connect(ctx context.Context) error {
	return c.FullReinit(ctx)
}

// Publish is fire-and-forget at the caller's QoS; failures log but do
// not change FSM state (spec.md §4.4).
func (c *Client) Publish(topic string, qos byte, payload []byte) {
	c.mu.Lock()
	client := c.paho
	c.mu.Unlock()
	if client == nil || !client.IsConnected() {
		c.logger.Warn("mqtt publish skipped: not connected", "topic", topic)
		return
	}
	token := client.Publish(topic, qos, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		}
	}()
}

// PublishJSON marshals v and publishes it with Publish.
func (c *Client) PublishJSON(topic string, qos byte, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}
	c.Publish(topic, qos, payload)
	return nil
}

// Subscribe appends to the subscription table only on success
// (spec.md §4.4).
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	client := c.paho
	c.mu.Unlock()
	if client == nil {
		return fmt.Errorf("subscribe %s: client not connected", topic)
	}
	token := client.Subscribe(topic, qos, nil)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.mu.Lock()
	c.subs = append(c.subs, subscription{topic: topic, qos: qos, handler: handler})
	c.mu.Unlock()
	return nil
}

// RefreshCredentials updates the configured username in place,
// without reconnecting — spec.md §4.4's token-rotation contract: "the
// client's username is updated in place (no reconnect)." The new
// username takes effect when FullReinit next rebuilds the paho client;
// LightweightReconnect reconnects with the options the current paho
// client was built with.
func (c *Client) RefreshCredentials(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Username = username
}

// Pump is the loop-pump body: one tick of MQTT I/O, yielding an
// Outcome. It returns the oldest outcome still queued from paho's
// asynchronous callbacks (one per tick), defaulting to OutcomeSuccess
// when connected and nothing is queued.
func (c *Client) Pump(ctx context.Context) Outcome {
	select {
	case o := <-c.outcomes:
		return o
	default:
	}

	c.mu.Lock()
	client := c.paho
	c.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return OutcomeNoConnection
	}
	return OutcomeSuccess
}

// LightweightReconnect implements Recovery: re-establish the TCP/TLS
// session keeping callbacks and the subscription table, then sleep 1s
// to stabilise and resubscribe every recorded topic (spec.md §4.4).
func (c *Client) LightweightReconnect(ctx context.Context) error {
	c.mu.Lock()
	client := c.paho
	c.mu.Unlock()
	if client == nil {
		return c.FullReinit(ctx)
	}

	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("lightweight reconnect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("lightweight reconnect: %w", err)
	}
	return c.stabiliseAndResubscribe(ctx)
}

// FullReinit implements Recovery: tear down and rebuild the client
// from config, then stabilise and resubscribe.
func (c *Client) FullReinit(ctx context.Context) error {
	c.mu.Lock()
	old := c.paho
	c.mu.Unlock()
	if old != nil {
		old.Disconnect(250)
	}

	opts, err := c.buildOptions()
	if err != nil {
		return err
	}
	newClient := mqtt.NewClient(opts)
	token := newClient.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("full reinit connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("full reinit connect: %w", err)
	}

	c.mu.Lock()
	c.paho = newClient
	c.mu.Unlock()

	return c.stabiliseAndResubscribe(ctx)
}

func (c *Client) stabiliseAndResubscribe(ctx context.Context) error {
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	client := c.paho
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		token := client.Subscribe(s.topic, s.qos, nil)
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("resubscribe %s: timed out", s.topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("resubscribe %s: %w", s.topic, err)
		}
	}

	if c.diagnostic != nil {
		c.diagnostic("mqtt_reconnected")
	}
	return nil
}

// SetExitFunc installs the function called when recovery is
// exhausted.
func (c *Client) SetExitFunc(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exit = fn
}

func (c *Client) RequestExit(reason string) {
	c.mu.Lock()
	fn := c.exit
	c.mu.Unlock()
	if fn != nil {
		fn(reason)
	} else {
		c.logger.Error("mqtt requested exit but no exit handler installed", "reason", reason)
	}
}

// classifyError maps a paho connection error to the spec's outcome
// taxonomy. paho does not expose structured error kinds, so this
// mirrors the original's mosquitto-return-code classification with a
// string-based heuristic over the common error families TLS/TCP
// produce.
func classifyError(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "refused") || strings.Contains(msg, "no route") || strings.Contains(msg, "timeout"):
		return OutcomeNoConnection
	case strings.Contains(msg, "reset") || strings.Contains(msg, "eof") || strings.Contains(msg, "broken pipe"):
		return OutcomeConnectionLost
	case strings.Contains(msg, "protocol"):
		return OutcomeProtocolError
	case strings.Contains(msg, "not authorized") || strings.Contains(msg, "bad user") || strings.Contains(msg, "identifier rejected"):
		return OutcomeInvalidParams
	case strings.Contains(msg, "memory"):
		return OutcomeOutOfMemory
	case strings.Contains(msg, "x509") || strings.Contains(msg, "certificate") || strings.Contains(msg, "tls"):
		return OutcomeSystemError
	default:
		return OutcomeUnknown
	}
}
