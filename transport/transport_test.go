package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzorr/chat-test-client-sub001/config"
	"github.com/vzorr/chat-test-client-sub001/errors"
	"github.com/vzorr/chat-test-client-sub001/message"
	"github.com/vzorr/chat-test-client-sub001/pkg/retry"
)

func testConfig() config.TransportConfig {
	return config.TransportConfig{
		URL:            "nats://localhost:4222",
		ClientName:     "chat-client-test",
		ConnectTimeout: config.Duration(time.Second),
		AckTimeout:     config.Duration(time.Second),
		Reconnection:   true,
		MaxReconnects:  3,
		ReconnectWait:  config.Duration(50 * time.Millisecond),
		ReconnectMax:   config.Duration(200 * time.Millisecond),
	}
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(config.TransportConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestConnect_RequiresIdentity(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	defer c.Close()

	err = c.Connect(context.Background(), Identity{})
	require.ErrorIs(t, err, errors.ErrMissingToken)

	err = c.Connect(context.Background(), Identity{UserID: "u1"})
	require.ErrorIs(t, err, errors.ErrMissingToken)
}

func TestConnect_AfterCloseFails(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)

	c.Close()
	err = c.Connect(context.Background(), Identity{UserID: "u1", Token: "tok"})
	require.ErrorIs(t, err, errors.ErrDisposed)
	assert.True(t, errors.IsFatal(err))
}

func TestSend_NotConnected(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Send(context.Background(), &message.Outbound{
		ClientTempID:   "m1",
		ConversationID: "conv-1",
		Content:        "hi",
	})
	require.ErrorIs(t, err, errors.ErrNotConnected)
	assert.True(t, errors.IsTransient(err))
}

func TestSendTyping_NotConnected(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	defer c.Close()

	err = c.SendTyping("conv-1", true)
	require.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestJoinConversation_NotConnected(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.JoinConversation("conv-1")
	require.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestDisconnect_Idempotent(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	defer c.Close()

	c.Disconnect()
	c.Disconnect()
	assert.False(t, c.IsConnected())
}

func TestClose_Idempotent(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)

	c.Close()
	c.Close()
}

func TestReconnectDelay_PublishesAttempt(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	defer c.Close()

	var attempts []int
	c.OnReconnecting(func(attempt int) { attempts = append(attempts, attempt) })

	policy := retry.Resend(3, 50*time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, c.reconnectDelay(policy, 1))
	c.reconnectDelay(policy, 2)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestReconnected_CarriesAttemptCount(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	defer c.Close()

	var got int
	c.OnReconnected(func(attempt int) { got = attempt })

	policy := retry.Resend(3, time.Millisecond)
	c.reconnectDelay(policy, 1)
	c.reconnectDelay(policy, 2)
	c.handleReconnect(nil)
	assert.Equal(t, 2, got)

	// The counter resets once recovery succeeds.
	c.handleReconnect(nil)
	assert.Equal(t, 0, got)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "chat.msg.new.u1", SubjectNewMessages("u1"))
	assert.Equal(t, "chat.msg.error.u1", SubjectSendErrors("u1"))
	assert.Equal(t, "chat.typing.conv-1", SubjectTyping("conv-1"))
	assert.Equal(t, "chat.presence.u1", SubjectPresenceUser("u1"))
}
