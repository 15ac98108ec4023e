// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattermost/callsignal/service/calls"
	"github.com/mattermost/callsignal/service/relay"

	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("empty config", func(t *testing.T) {
		c, err := NewClient(ClientConfig{})
		require.Error(t, err)
		require.Equal(t, "failed to parse config: invalid URL value: should not be empty", err.Error())
		require.Nil(t, c)
	})

	t.Run("invalid url", func(t *testing.T) {
		c, err := NewClient(ClientConfig{URL: "not_a_url"})
		require.Error(t, err)
		require.Equal(t, "failed to parse config: invalid url host: should not be empty", err.Error())
		require.Nil(t, c)
	})

	t.Run("invalid scheme", func(t *testing.T) {
		c, err := NewClient(ClientConfig{URL: "ftp://invalid"})
		require.Error(t, err)
		require.Equal(t, `failed to parse config: invalid url scheme: "ftp" is not valid`, err.Error())
		require.Nil(t, c)
	})

	t.Run("invalid option", func(t *testing.T) {
		c, err := NewClient(ClientConfig{URL: "http://localhost"}, WithRequestTimeout(0))
		require.EqualError(t, err, "failed to apply option: invalid request timeout 0s")
		require.Nil(t, c)
	})

	t.Run("success", func(t *testing.T) {
		c, err := NewClient(ClientConfig{URL: "https://localhost/"})
		require.NoError(t, err)
		require.NotNil(t, c)
		require.Equal(t, "https://localhost", c.cfg.httpURL)
		require.Equal(t, "wss://localhost/ws", c.cfg.wsURL)
		require.NoError(t, c.Close())
	})
}

func TestClientRegister(t *testing.T) {
	th := SetupTestHelper(t, nil)
	defer th.Teardown()

	t.Run("generated key", func(t *testing.T) {
		key, err := th.adminClient.Register("clientA", "")
		require.NoError(t, err)
		require.Len(t, key, 32)
	})

	t.Run("given key", func(t *testing.T) {
		key, err := th.adminClient.Register("clientB", testKeyB)
		require.NoError(t, err)
		require.Equal(t, testKeyB, key)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := th.adminClient.Register("clientB", testKeyB)
		require.Error(t, err)
		var reqErr *RequestError
		require.True(t, errors.As(err, &reqErr))
		require.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	})

	t.Run("unregister", func(t *testing.T) {
		require.NoError(t, th.adminClient.Unregister("clientB"))
		require.Error(t, th.adminClient.Unregister("clientB"))
	})
}

func TestClientLogin(t *testing.T) {
	th := SetupTestHelper(t, nil)
	defer th.Teardown()

	c := th.newRegisteredClient("clientA")
	defer c.Close()

	token, err := c.Login(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Requests now go through the bearer token.
	_, err = c.History(context.Background(), 0)
	require.NoError(t, err)

	// Logging in again replaces the token.
	newToken, err := c.Login(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, token, newToken)

	t.Run("wrong key", func(t *testing.T) {
		bad, err := NewClient(ClientConfig{
			URL:      th.apiURL,
			ClientID: "clientA",
			AuthKey:  testKeyB,
		})
		require.NoError(t, err)
		defer bad.Close()

		_, err = bad.Login(context.Background())
		var reqErr *RequestError
		require.True(t, errors.As(err, &reqErr))
		require.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	})
}

func TestClientCalls(t *testing.T) {
	th := SetupTestHelper(t, nil)
	defer th.Teardown()

	caller := th.newRegisteredClient("alice")
	defer caller.Close()
	callee := th.newRegisteredClient("bob")
	defer callee.Close()
	other := th.newRegisteredClient("carol")
	defer other.Close()

	ctx := context.Background()

	t.Run("answered call", func(t *testing.T) {
		callID, err := caller.CreateCall(ctx, "bob", calls.ModeVideo)
		require.NoError(t, err)
		require.NotEmpty(t, callID)

		rec, err := callee.GetCall(ctx, callID)
		require.NoError(t, err)
		require.Equal(t, calls.StatusInitiated, rec.Status)
		require.Equal(t, "alice", rec.CallerID)

		_, err = other.GetCall(ctx, callID)
		var reqErr *RequestError
		require.True(t, errors.As(err, &reqErr))
		require.Equal(t, http.StatusForbidden, reqErr.StatusCode)

		// Only the callee can answer.
		err = caller.AnswerCall(ctx, callID)
		require.True(t, errors.As(err, &reqErr))
		require.Equal(t, http.StatusForbidden, reqErr.StatusCode)

		require.NoError(t, callee.AnswerCall(ctx, callID))
		require.NoError(t, caller.EndCall(ctx, callID, 42))

		rec, err = caller.GetCall(ctx, callID)
		require.NoError(t, err)
		require.Equal(t, calls.StatusEnded, rec.Status)
		require.Equal(t, int64(42), rec.DurationSeconds)

		// Ending twice is harmless.
		require.NoError(t, callee.EndCall(ctx, callID, 10))
		rec, err = callee.GetCall(ctx, callID)
		require.NoError(t, err)
		require.Equal(t, int64(42), rec.DurationSeconds)
	})

	t.Run("rejected call", func(t *testing.T) {
		callID, err := caller.CreateCall(ctx, "bob", calls.ModeAudio)
		require.NoError(t, err)
		require.NoError(t, callee.RejectCall(ctx, callID))

		err = callee.AnswerCall(ctx, callID)
		var reqErr *RequestError
		require.True(t, errors.As(err, &reqErr))
		require.Equal(t, http.StatusConflict, reqErr.StatusCode)
	})

	t.Run("missing call", func(t *testing.T) {
		_, err := caller.GetCall(ctx, "missing")
		var reqErr *RequestError
		require.True(t, errors.As(err, &reqErr))
		require.Equal(t, http.StatusNotFound, reqErr.StatusCode)
		require.Equal(t, "request failed: call not found", err.Error())
	})

	t.Run("history", func(t *testing.T) {
		records, err := callee.History(ctx, 0)
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.ElementsMatch(t, []calls.Status{calls.StatusEnded, calls.StatusRejected},
			[]calls.Status{records[0].Status, records[1].Status})
		require.GreaterOrEqual(t, records[0].CreatedAt, records[1].CreatedAt)

		records, err = callee.History(ctx, 1)
		require.NoError(t, err)
		require.Len(t, records, 1)

		records, err = other.History(ctx, 0)
		require.NoError(t, err)
		require.Empty(t, records)
	})
}

func TestClientRelay(t *testing.T) {
	th := SetupTestHelper(t, nil)
	defer th.Teardown()

	alice := th.newRegisteredClient("alice")
	defer alice.Close()
	bob := th.newRegisteredClient("bob")
	defer bob.Close()

	var dials atomic.Int32
	dialFn := func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials.Add(1)
		return (&net.Dialer{}).DialContext(ctx, network, addr)
	}
	bobDialer, err := NewClient(ClientConfig{
		URL:      th.apiURL,
		ClientID: "bob",
		AuthKey:  bob.cfg.AuthKey,
	}, WithDialFunc(dialFn))
	require.NoError(t, err)
	defer bobDialer.Close()

	waitHello := func(c *Client) {
		t.Helper()
		select {
		case msg := <-c.ReceiveCh():
			require.Equal(t, relay.HelloMessage, msg.Type)
			require.NotEmpty(t, c.ConnID())
		case <-time.After(2 * time.Second):
			require.FailNow(t, "timed out waiting for hello")
		}
	}

	waitEvent := func(c *Client) relay.Message {
		t.Helper()
		select {
		case msg := <-c.ReceiveCh():
			return msg
		case <-time.After(2 * time.Second):
			require.FailNow(t, "timed out waiting for event")
		}
		return relay.Message{}
	}

	require.NoError(t, alice.Connect())
	waitHello(alice)
	require.NoError(t, bobDialer.Connect())
	waitHello(bobDialer)
	require.Equal(t, int32(1), dials.Load())

	t.Run("personal room", func(t *testing.T) {
		require.NoError(t, alice.Emit(relay.UserRoom("bob"), "call_initiated", []byte("payload")))
		msg := waitEvent(bobDialer)
		require.Equal(t, relay.EventMessage, msg.Type)
		require.Equal(t, relay.UserRoom("bob"), msg.Room)
		require.Equal(t, "call_initiated", msg.Event)
		require.Equal(t, "alice", msg.From)
		require.Equal(t, []byte("payload"), msg.Data)
	})

	t.Run("call room", func(t *testing.T) {
		room := relay.CallRoom("callID")
		require.NoError(t, alice.JoinRoom(room))
		require.NoError(t, bobDialer.JoinRoom(room))
		require.Eventually(t, func() bool {
			return len(th.srvc.hub.RoomMembers(room)) == 2
		}, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, bobDialer.Emit(room, "webrtc_answer", []byte("sdp")))
		msg := waitEvent(alice)
		require.Equal(t, "webrtc_answer", msg.Event)
		require.Equal(t, "bob", msg.From)

		require.NoError(t, alice.LeaveRoom(room))
		require.Eventually(t, func() bool {
			return len(th.srvc.hub.RoomMembers(room)) == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("foreign personal room", func(t *testing.T) {
		require.NoError(t, alice.JoinRoom(relay.UserRoom("bob")))
		msg := waitEvent(alice)
		require.Equal(t, relay.ErrorMessage, msg.Type)
		require.Equal(t, relay.UserRoom("bob"), msg.Room)
	})

	t.Run("receive channel closes", func(t *testing.T) {
		require.NoError(t, alice.Close())
		select {
		case _, ok := <-alice.ReceiveCh():
			require.False(t, ok)
		case <-time.After(2 * time.Second):
			require.FailNow(t, "timed out waiting for close")
		}
	})
}
