package transport

import (
	"bufio"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakePublishDeliversToSubscriber(t *testing.T) {
	broker := NewBroker()
	alice := NewFake(broker, "alice")
	bob := NewFake(broker, "bob")
	defer alice.Close()
	defer bob.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bob.Subscribe(ctx, "room/1")
	require.NoError(t, err)

	require.NoError(t, alice.Publish(ctx, "room/1", []byte("hello")))

	select {
	case msg := <-ch:
		require.Equal(t, "hello", string(msg.Data))
		require.Equal(t, PeerID("alice"), msg.From)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestFakePublishNoSubscribersReturnsError(t *testing.T) {
	broker := NewBroker()
	alice := NewFake(broker, "alice")
	defer alice.Close()

	err := alice.Publish(context.Background(), "room/empty", []byte("x"))
	require.ErrorIs(t, err, ErrNoPeersSubscribed)
}

func TestFakeDoesNotDeliverToSelf(t *testing.T) {
	broker := NewBroker()
	alice := NewFake(broker, "alice")
	defer alice.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := alice.Subscribe(ctx, "room/1")
	require.NoError(t, err)

	err = alice.Publish(ctx, "room/1", []byte("hi"))
	require.ErrorIs(t, err, ErrNoPeersSubscribed)
}

func TestFakeDialProtocolRoundTrip(t *testing.T) {
	broker := NewBroker()
	hub := NewFake(broker, "hub")
	peerT := NewFake(broker, "peer")
	defer hub.Close()
	defer peerT.Close()

	received := make(chan string, 1)
	hub.HandleProtocol("/y-sync/1.0.0", func(s Stream, from PeerID) {
		line, _ := bufio.NewReader(s).ReadString('\n')
		received <- line
		_, _ = s.Write([]byte("pong\n"))
	})

	stream, err := peerT.DialProtocol(context.Background(), "hub", "/y-sync/1.0.0")
	require.NoError(t, err)

	_, err = stream.Write([]byte("ping\n"))
	require.NoError(t, err)

	select {
	case line := <-received:
		require.Equal(t, "ping\n", line)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hub to receive")
	}

	reply, _ := bufio.NewReader(stream).ReadString('\n')
	require.Equal(t, "pong\n", reply)
}

func TestFakeDialProtocolUnknownPeer(t *testing.T) {
	broker := NewBroker()
	peerT := NewFake(broker, "peer")
	defer peerT.Close()

	_, err := peerT.DialProtocol(context.Background(), "ghost", "/y-sync/1.0.0")
	require.Error(t, err)
}

func TestFakeGetSubscribersExcludesSelf(t *testing.T) {
	broker := NewBroker()
	alice := NewFake(broker, "alice")
	bob := NewFake(broker, "bob")
	defer alice.Close()
	defer bob.Close()

	ctx := context.Background()
	_, err := bob.Subscribe(ctx, "room/1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		subs := alice.GetSubscribers("room/1")
		return len(subs) == 1 && subs[0] == "bob"
	}, time.Second, 5*time.Millisecond)
}

func TestFakePeerEventsDeliversNotify(t *testing.T) {
	broker := NewBroker()
	alice := NewFake(broker, "alice")
	defer alice.Close()

	events := alice.PeerEvents()
	alice.NotifyConnected("bob")

	select {
	case ev := <-events:
		require.Equal(t, PeerID("bob"), ev.Peer)
		require.Equal(t, PeerConnected, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for peer event")
	}
}
