package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vzorr/chat-test-client-sub001/config"
	"github.com/vzorr/chat-test-client-sub001/message"
)

func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)

	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	natsURL := fmt.Sprintf("nats://%s:%s", host, port.Port())

	// Wait for NATS to be fully ready
	time.Sleep(100 * time.Millisecond)

	return natsContainer, natsURL
}

// fakeServer answers on the send subject like the chat backend would.
func fakeServer(t *testing.T, url string, reply func(*message.Outbound) message.Ack) *nats.Conn {
	nc, err := nats.Connect(url)
	require.NoError(t, err)

	_, err = nc.Subscribe(SubjectSend, func(m *nats.Msg) {
		var out message.Outbound
		require.NoError(t, json.Unmarshal(m.Data, &out))
		data, err := json.Marshal(reply(&out))
		require.NoError(t, err)
		require.NoError(t, m.Respond(data))
	})
	require.NoError(t, err)
	return nc
}

func TestIntegration_ConnectAndSend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	server := fakeServer(t, natsURL, func(out *message.Outbound) message.Ack {
		return message.Ack{ClientTempID: out.ClientTempID, MessageID: "srv-1", OK: true}
	})
	defer server.Close()

	cfg := testConfig()
	cfg.URL = natsURL
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect(ctx, Identity{UserID: "u1", Token: "tok"}))
	assert.True(t, c.IsConnected())

	ack, err := c.Send(ctx, &message.Outbound{
		ClientTempID:   "m1",
		ConversationID: "conv-1",
		Content:        "hello",
	})
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Equal(t, "m1", ack.ClientTempID)
	assert.Equal(t, "srv-1", ack.MessageID)
}

func TestIntegration_ConnectSameIdentityIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	cfg := testConfig()
	cfg.URL = natsURL
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	id := Identity{UserID: "u1", Token: "tok"}
	require.NoError(t, c.Connect(ctx, id))
	require.NoError(t, c.Connect(ctx, id))
	assert.True(t, c.IsConnected())
	assert.Equal(t, id, c.Identity())
}

func TestIntegration_ConnectDifferentIdentityReplacesConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	cfg := testConfig()
	cfg.URL = natsURL
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect(ctx, Identity{UserID: "u1", Token: "tok1"}))
	require.NoError(t, c.Connect(ctx, Identity{UserID: "u2", Token: "tok2"}))
	assert.True(t, c.IsConnected())
	assert.Equal(t, "u2", c.Identity().UserID)
}

func TestIntegration_InboundEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	server, err := nats.Connect(natsURL)
	require.NoError(t, err)
	defer server.Close()

	cfg := testConfig()
	cfg.URL = natsURL
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	received := make(chan message.Inbound, 1)
	c.OnNewMessage(func(in message.Inbound) { received <- in })
	presences := make(chan message.Presence, 1)
	c.OnPresence(func(p message.Presence) { presences <- p })

	require.NoError(t, c.Connect(ctx, Identity{UserID: "u1", Token: "tok"}))

	inData, err := json.Marshal(message.Inbound{
		MessageID:      "srv-9",
		ConversationID: "conv-1",
		SenderID:       "u2",
		Content:        "hi there",
	})
	require.NoError(t, err)
	require.NoError(t, server.Publish(SubjectNewMessages("u1"), inData))

	presData, err := json.Marshal(message.Presence{UserID: "u2", Online: true})
	require.NoError(t, err)
	require.NoError(t, server.Publish(SubjectPresenceUser("u2"), presData))

	select {
	case in := <-received:
		assert.Equal(t, "srv-9", in.MessageID)
		assert.Equal(t, "u2", in.SenderID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}

	select {
	case p := <-presences:
		assert.Equal(t, "u2", p.UserID)
		assert.True(t, p.Online)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for presence update")
	}
}

func TestIntegration_TypingRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	cfg := testConfig()
	cfg.URL = natsURL

	sender, err := New(cfg)
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := New(cfg)
	require.NoError(t, err)
	defer receiver.Close()

	require.NoError(t, sender.Connect(ctx, Identity{UserID: "u1", Token: "tok1"}))
	require.NoError(t, receiver.Connect(ctx, Identity{UserID: "u2", Token: "tok2"}))

	typings := make(chan message.Typing, 1)
	receiver.OnTyping(func(ty message.Typing) { typings <- ty })
	leave, err := receiver.JoinConversation("conv-1")
	require.NoError(t, err)
	defer leave()

	require.NoError(t, sender.SendTyping("conv-1", true))

	select {
	case ty := <-typings:
		assert.Equal(t, "conv-1", ty.ConversationID)
		assert.Equal(t, "u1", ty.UserID)
		assert.True(t, ty.Typing)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for typing event")
	}
}

func TestIntegration_AckTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	cfg := testConfig()
	cfg.URL = natsURL
	cfg.AckTimeout = config.Duration(200 * time.Millisecond)
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect(ctx, Identity{UserID: "u1", Token: "tok"}))

	// No responder on the send subject: the acknowledgment never arrives.
	start := time.Now()
	_, err = c.Send(ctx, &message.Outbound{
		ClientTempID:   "m1",
		ConversationID: "conv-1",
		Content:        "hello",
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
