//go:build e2e

package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"cloudpico-node/internal/config"
	"cloudpico-node/internal/recordlog"
)

const mqttPort = nat.Port("1883/tcp")

func TestUplink_PublishReachesBroker(t *testing.T) {
	host, port := startMosquitto(t)

	cfg := config.Config{
		MQTTBroker:      host,
		MQTTPort:        port,
		MQTTClientID:    "cloudpico-node-e2e",
		DeviceStationID: "e2e",
	}

	received := subscribe(t, host, port, TelemetryTopic(cfg.DeviceStationID))

	c := NewClient(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	rec := recordlog.Record{
		Timestamp:   time.Date(2025, 3, 19, 15, 30, 0, 0, time.UTC),
		Temperature: 23.45,
		Humidity:    45.67,
	}
	if err := c.Publish(ctx, rec); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-received:
		var got Telemetry
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("decode %s: %v", msg, err)
		}
		if got.StationID != "e2e" || !got.Timestamp.Equal(rec.Timestamp) {
			t.Fatalf("telemetry = %+v", got)
		}
		if got.Temperature == nil || *got.Temperature != 23.45 {
			t.Fatalf("temperature = %v, want 23.45", got.Temperature)
		}
		if got.Sequence == nil || *got.Sequence != 1 {
			t.Fatalf("sequence = %v, want 1", got.Sequence)
		}
	case <-ctx.Done():
		t.Fatalf("no telemetry received: %v", ctx.Err())
	}
}

func startMosquitto(t *testing.T) (string, int) {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		ExposedPorts: []string{string(mqttPort)},
		WaitingFor:   wait.ForListeningPort(mqttPort).WithStartupTimeout(30 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, mqttPort)
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return host, mapped.Int()
}

func subscribe(t *testing.T, host string, port int, topic string) <-chan []byte {
	t.Helper()

	out := make(chan []byte, 1)
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetClientID("cloudpico-node-e2e-sub")
	sub := mqtt.NewClient(opts)
	if tok := sub.Connect(); !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscriber connect: %v", tok.Error())
	}
	t.Cleanup(func() { sub.Disconnect(100) })

	tok := sub.Subscribe(topic, 1, func(_ mqtt.Client, m mqtt.Message) {
		select {
		case out <- m.Payload():
		default:
		}
	})
	if !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscribe %s: %v", topic, tok.Error())
	}
	return out
}
