package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// StartServer starts an embedded NATS server on a random port
func StartServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	}

	s, err := server.NewServer(opts)
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}

	// Enable JetStream only once the server is running: enabling it earlier
	// can spawn the internal send loop before Start() marks the server as
	// running, making the loop exit and JetStream API replies get dropped.
	err = s.EnableJetStream(&server.JetStreamConfig{
		StoreDir: t.TempDir(),
	})
	require.NoError(t, err)

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		s.Shutdown()
	})

	return s, nc
}

// StartJetStream starts an embedded NATS server and returns a JetStream
// context alongside the connection. Cleanup is registered on t.
func StartJetStream(t *testing.T) (*nats.Conn, nats.JetStreamContext) {
	t.Helper()

	_, nc := StartServer(t)

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)

	return nc, js
}

// WaitForStream waits for a stream to be created
func WaitForStream(t *testing.T, js nats.JetStreamContext, name string, timeout time.Duration) error {
	t.Helper()

	start := time.Now()
	for time.Since(start) < timeout {
		_, err := js.StreamInfo(name)
		if err == nil {
			return nil
		}
		if err != nats.ErrStreamNotFound {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for stream %s", name)
}

// CollectMessages subscribes to a subject and returns a channel that
// receives everything published there until the test ends
func CollectMessages(t *testing.T, nc *nats.Conn, subject string) <-chan *nats.Msg {
	t.Helper()

	msgs := make(chan *nats.Msg, 100)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		msgs <- msg
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	t.Cleanup(func() { sub.Unsubscribe() })

	return msgs
}
