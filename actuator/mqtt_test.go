package actuator

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"rssi-haptics/models"

	"github.com/eclipse/paho.golang/paho"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// Spin up an in-process MQTT broker for the duration of the test.
func startBroker(t *testing.T) string {
	t.Helper()
	addr := freeAddress(t)

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "test",
		Type:    "tcp",
		Address: addr,
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { broker.Close() })
	return addr
}

func subscribe(ctx context.Context, t *testing.T, addr, topic string) <-chan *paho.Publish {
	t.Helper()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	require.NoError(t, err)

	received := make(chan *paho.Publish, 8)
	client := paho.NewClient(paho.ClientConfig{
		ClientID: "subscriber",
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				received <- pr.Packet
				return true, nil
			},
		},
	})
	_, err = client.Connect(ctx, &paho.Connect{ClientID: "subscriber", KeepAlive: 5, CleanStart: true})
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(&paho.Disconnect{}) })

	_, err = client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	})
	require.NoError(t, err)
	return received
}

func TestMQTTActuatorPublishesPulse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr := startBroker(t)
	received := subscribe(ctx, t, addr, "haptics/+/actuation")

	a, err := Dial(ctx, Options{Broker: "tcp://" + addr, ClientID: "actuator"})
	require.NoError(t, err)
	defer a.Close()
	require.True(t, a.Connected())

	// None is never published
	require.NoError(t, a.Actuate(ctx, models.AnalysisResult{TargetID: "beacon-1", Command: models.None()}))
	require.NoError(t, a.Actuate(ctx, models.AnalysisResult{
		TargetID:  "beacon-1",
		SessionID: "s-1",
		ZScore:    1.8,
		Command:   models.Pulse(255),
	}))

	select {
	case pub := <-received:
		assert.Equal(t, "haptics/beacon-1/actuation", pub.Topic)
		require.NotNil(t, pub.Properties)
		assert.Equal(t, "application/json", pub.Properties.ContentType)

		var msg Message
		require.NoError(t, json.Unmarshal(pub.Payload, &msg))
		assert.Equal(t, "beacon-1", msg.TargetID)
		assert.Equal(t, models.Pulse(255), msg.Command)
		require.NotNil(t, msg.Pattern)
		assert.Equal(t, []int{255, 0}, msg.Pattern.Amplitudes)
	case <-ctx.Done():
		t.Fatal("no actuation received")
	}

	select {
	case pub := <-received:
		t.Fatalf("unexpected publish on %s", pub.Topic)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMQTTActuatorClosed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := startBroker(t)
	a, err := Dial(ctx, Options{Broker: addr, ClientID: "actuator", TopicPrefix: "lab"})
	require.NoError(t, err)
	assert.Equal(t, "lab/x/actuation", a.Topic("x"))

	require.NoError(t, a.Close())
	err = a.Actuate(ctx, models.AnalysisResult{TargetID: "x", Command: models.Pulse(10)})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestBrokerAddress(t *testing.T) {
	addr, err := brokerAddress("tcp://broker:1883")
	require.NoError(t, err)
	assert.Equal(t, "broker:1883", addr)

	addr, err = brokerAddress("localhost:1883")
	require.NoError(t, err)
	assert.Equal(t, "localhost:1883", addr)

	_, err = brokerAddress("ws://broker:80")
	assert.Error(t, err)

	_, err = brokerAddress("")
	assert.Error(t, err)
}

func TestMQTTActuatorPublishesCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr := startBroker(t)
	received := subscribe(ctx, t, addr, "haptics/beacon-1/actuation")

	a, err := Dial(ctx, Options{Broker: addr, ClientID: "actuator"})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Actuate(ctx, models.AnalysisResult{TargetID: "beacon-1", SessionID: "s-1", Command: models.Pulse(132)}))
	require.NoError(t, a.Actuate(ctx, models.AnalysisResult{TargetID: "beacon-1", SessionID: "s-1", Command: models.Cancel()}))

	var kinds []models.CommandKind
	for len(kinds) < 2 {
		select {
		case pub := <-received:
			var msg Message
			require.NoError(t, json.Unmarshal(pub.Payload, &msg))
			kinds = append(kinds, msg.Command.Kind)
			if msg.Command.IsCancel() {
				assert.Nil(t, msg.Pattern)
				assert.Equal(t, "s-1", msg.SessionID)
			}
		case <-ctx.Done():
			t.Fatalf("received %v before timeout", kinds)
		}
	}
	assert.Equal(t, []models.CommandKind{models.CommandPulse, models.CommandCancel}, kinds)
}
