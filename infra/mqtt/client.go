package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	coremon "github.com/kilianp07/cityfleet/core/monitoring"
	coremqtt "github.com/kilianp07/cityfleet/core/mqtt"
	"github.com/kilianp07/cityfleet/infra/auth"
	"github.com/kilianp07/cityfleet/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker      string `json:"broker" yaml:"broker"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	UseTLS      bool   `json:"use_tls" yaml:"use_tls"`
	ClientCert  string `json:"client_cert" yaml:"client_cert"`
	ClientKey   string `json:"client_key" yaml:"client_key"`
	CABundle    string `json:"ca_bundle" yaml:"ca_bundle"`
	// AuthMethod is username_password, oauth2 or both (password plus TLS).
	AuthMethod string          `json:"auth_method" yaml:"auth_method"`
	OAuth2     auth.Conf       `json:"oauth2" yaml:"oauth2"`
	QoS        map[string]byte `json:"qos" yaml:"qos"`
	LWTTopic   string          `json:"lwt_topic" yaml:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload" yaml:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos" yaml:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain" yaml:"lwt_retain"`
	MaxRetries int             `json:"max_retries" yaml:"max_retries"`
	BackoffMS  int             `json:"backoff_ms" yaml:"backoff_ms"`
	TLSConfig  *tls.Config     `json:"-" yaml:"-"`
}

// SetDefaults fills the client id and topic prefix.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "cityfleet-" + uuid.NewString()[:8]
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "cityfleet"
	}
}

// Topic joins parts under the configured prefix.
func (c Config) Topic(parts ...string) string {
	prefix := c.TopicPrefix
	if prefix == "" {
		prefix = "cityfleet"
	}
	return strings.Join(append([]string{prefix}, parts...), "/")
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient implements core/mqtt.Client using Eclipse Paho.
type PahoClient struct {
	cli        pahoClient
	qos        map[string]byte
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration

	mu   sync.Mutex
	subs map[string]coremqtt.Handler
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker. Subscriptions registered later
// are restored on every reconnect.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_client")
	pc := &PahoClient{
		qos:        cfg.QoS,
		logger:     log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		subs:       map[string]coremqtt.Handler{},
	}
	if pc.maxRetries < 0 {
		pc.maxRetries = 0
	}
	if pc.backoff <= 0 {
		pc.backoff = 100 * time.Millisecond
	}
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected")
		pc.resubscribe()
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	pc.cli = newMQTTClient(opts)
	if token := pc.cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.AuthMethod == "oauth2" {
		if cfg.OAuth2.TokenURL == "" {
			return nil, fmt.Errorf("oauth2 auth requires token_url")
		}
		cred := auth.NewClientCred(cfg.OAuth2)
		user := cfg.Username
		if user == "" {
			user = cfg.OAuth2.ClientID
		}
		// Called on every (re)connect so expired tokens get replaced.
		opts.SetCredentialsProvider(func() (string, string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			tok, err := cred.Token(ctx)
			if err != nil {
				logger.New("mqtt_client").Errorf("broker token: %v", err)
				return user, ""
			}
			return user, tok
		})
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (p *PahoClient) qosFor(kind string) byte {
	if q, ok := p.qos[kind]; ok {
		return q
	}
	return 0
}

func wrap(h coremqtt.Handler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) { h(m.Topic(), m.Payload()) }
}

// Publish sends payload to topic, retrying with exponential backoff. The
// final failure is reported to the monitor.
func (p *PahoClient) Publish(topic string, payload []byte) error {
	if p.cli == nil {
		return coremqtt.ErrNotConnected
	}
	qos := p.qosFor("event")
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		if err = token.Error(); err == nil {
			return nil
		}
		p.logger.Warnf("publish %s attempt %d failed: %v", topic, attempt+1, err)
		if attempt < p.maxRetries {
			time.Sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	err = fmt.Errorf("%w: %s: %w", coremqtt.ErrPublishFailed, topic, err)
	coremon.CaptureException(err, map[string]string{"module": "mqtt", "topic": topic})
	return err
}

// Subscribe registers h for topic on the current session and on reconnects.
func (p *PahoClient) Subscribe(topic string, h coremqtt.Handler) error {
	if p.cli == nil {
		return coremqtt.ErrNotConnected
	}
	p.mu.Lock()
	p.subs[topic] = h
	p.mu.Unlock()
	if token := p.cli.Subscribe(topic, p.qosFor("trigger"), wrap(h)); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (p *PahoClient) resubscribe() {
	p.mu.Lock()
	subs := make(map[string]coremqtt.Handler, len(p.subs))
	for t, h := range p.subs {
		subs[t] = h
	}
	p.mu.Unlock()
	for t, h := range subs {
		if token := p.cli.Subscribe(t, p.qosFor("trigger"), wrap(h)); token.Wait() && token.Error() != nil {
			p.logger.Errorf("resubscribe %s: %v", t, token.Error())
		}
	}
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
