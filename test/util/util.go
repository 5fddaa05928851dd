// Package util holds the container and polling helpers shared by the
// integration tests.
package util

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	MosquittoReadyTimeout = 5 * time.Second
	MetricTimeout         = 5 * time.Second

	pollInterval = 50 * time.Millisecond
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
log_dest stdout
log_type error
log_type warning
`

// FreeAddr returns a loopback address with a port nobody listens on.
func FreeAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	addr := l.Addr().String()
	return addr, l.Close()
}

func poll(ctx context.Context, op func() error) error {
	return backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(pollInterval), ctx))
}

// WaitForMetric scrapes metricsURL until a line starts with series.
func WaitForMetric(ctx context.Context, metricsURL, series string) error {
	err := poll(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, metricsURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		for _, line := range strings.Split(string(body), "\n") {
			if strings.HasPrefix(line, series) {
				return nil
			}
		}
		return fmt.Errorf("series %s not exported yet", series)
	})
	if err != nil {
		return fmt.Errorf("metric %q: %w", series, err)
	}
	return nil
}

// Broker is a disposable Mosquitto container.
type Broker struct {
	URL  string
	cont tc.Container
}

// StartMosquitto runs eclipse-mosquitto and waits until it accepts MQTT
// sessions.
func StartMosquitto(ctx context.Context) (*Broker, error) {
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			Reader:            strings.NewReader(mosquittoConf),
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return nil, err
	}
	b := &Broker{cont: cont}
	host, err := cont.Host(ctx)
	if err != nil {
		b.Close()
		return nil, err
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		b.Close()
		return nil, err
	}
	b.URL = fmt.Sprintf("tcp://%s:%s", host, port.Port())

	readyCtx, cancel := context.WithTimeout(ctx, MosquittoReadyTimeout)
	defer cancel()
	first, err := b.Connect(readyCtx, "cityfleet-ready")
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("mosquitto not ready: %w", err)
	}
	first.Disconnect(100)
	return b, nil
}

// Connect opens a session with the given client id, retrying until ctx ends.
func (b *Broker) Connect(ctx context.Context, clientID string) (paho.Client, error) {
	var cli paho.Client
	err := poll(ctx, func() error {
		cli = paho.NewClient(paho.NewClientOptions().AddBroker(b.URL).SetClientID(clientID))
		tok := cli.Connect()
		if !tok.WaitTimeout(time.Second) {
			return fmt.Errorf("connect %s: timeout", b.URL)
		}
		return tok.Error()
	})
	if err != nil {
		return nil, err
	}
	return cli, nil
}

// Close terminates the container.
func (b *Broker) Close() {
	_ = b.cont.Terminate(context.Background())
}
