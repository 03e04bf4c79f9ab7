package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	corenotify "github.com/kilianp07/dockflow/core/notify"
	"github.com/kilianp07/dockflow/infra/logger"
)

// MQTTConfig defines the connection and publishing parameters.
type MQTTConfig struct {
	Broker      string        `json:"broker"`
	ClientID    string        `json:"client_id"`
	Username    string        `json:"username"`
	Password    string        `json:"password"`
	TopicPrefix string        `json:"topic_prefix"`
	QoS         byte          `json:"qos"`
	Retain      bool          `json:"retain"`
	UseTLS      bool          `json:"use_tls"`
	ClientCert  string        `json:"client_cert"`
	ClientKey   string        `json:"client_key"`
	CABundle    string        `json:"ca_bundle"`
	MaxRetries  int           `json:"max_retries"`
	Backoff     time.Duration `json:"backoff"`
	Timeout     time.Duration `json:"timeout"`
	TLSConfig   *tls.Config   `json:"-"`
}

func (c *MQTTConfig) setDefaults() {
	if c.ClientID == "" {
		c.ClientID = "dockflow-" + uuid.NewString()[:8]
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "dockflow/pipeline"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MQTTNotifier publishes stage messages to <topic_prefix>/<stage>.
type MQTTNotifier struct {
	cli    pahoClient
	cfg    MQTTConfig
	logger logger.Logger
}

// NewMQTTNotifier connects to the broker.
func NewMQTTNotifier(cfg MQTTConfig) (*MQTTNotifier, error) {
	cfg.setDefaults()
	opts, err := newClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_notifier")
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	c := newMQTTClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout after %s", cfg.Broker, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	log.Infof("MQTT connected to %s", cfg.Broker)
	return &MQTTNotifier{cli: c, cfg: cfg, logger: log}, nil
}

func newClientOptions(cfg MQTTConfig) (*paho.ClientOptions, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.loadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

func (c MQTTConfig) loadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires ca_bundle")
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("ca bundle %s holds no certificates", c.CABundle)
	}
	cfg := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	if c.ClientCert != "" || c.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Topic returns the topic a stage is published on.
func (n *MQTTNotifier) Topic(stage string) string {
	return strings.TrimSuffix(n.cfg.TopicPrefix, "/") + "/" + stage
}

// Notify publishes msg, retrying with exponential backoff.
func (n *MQTTNotifier) Notify(ctx context.Context, msg corenotify.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	topic := n.Topic(string(msg.Report.Stage))
	var publishErr error
	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		token := n.cli.Publish(topic, n.cfg.QoS, n.cfg.Retain, payload)
		if !token.WaitTimeout(n.cfg.Timeout) {
			publishErr = fmt.Errorf("publish to %s: timeout", topic)
		} else {
			publishErr = token.Error()
		}
		if publishErr == nil {
			n.logger.Debugf("published %s summary to %s", msg.Report.Stage, topic)
			return nil
		}
		n.logger.Warnf("publish attempt %d failed: %v", attempt+1, publishErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.cfg.Backoff * time.Duration(1<<attempt)):
		}
	}
	return publishErr
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() error {
	if n.cli != nil && n.cli.IsConnected() {
		n.cli.Disconnect(250)
	}
	return nil
}
