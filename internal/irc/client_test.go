package irc

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/matt0x6f/ircsync/internal/constants"
	"github.com/matt0x6f/ircsync/internal/dispatch"
	"github.com/matt0x6f/ircsync/internal/lifecycle"
	"golang.org/x/time/rate"
)

type recorder struct {
	mu     sync.Mutex
	events []dispatch.Event
	fail   func(ev dispatch.Event) error
}

func (r *recorder) Handle(ctx context.Context, ev dispatch.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		return fail(ev)
	}
	return nil
}

// kinds lists the recorded events, leaving out raw lines
func (r *recorder) kinds() []dispatch.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dispatch.Event
	for _, ev := range r.events {
		if _, ok := ev.(dispatch.Raw); !ok {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if raw, ok := ev.(dispatch.Raw); ok && !raw.FromServer {
			out = append(out, raw.Line)
		}
	}
	return out
}

type fakeServer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (s *fakeServer) expect(line string) {
	s.t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := s.r.ReadString('\n')
	if err != nil {
		s.t.Fatalf("waiting for %q: %v", line, err)
	}
	assert.Equal(s.t, line, strings.TrimRight(got, "\r\n"))
}

func (s *fakeServer) send(line string) {
	s.t.Helper()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		s.t.Fatalf("sending %q: %v", line, err)
	}
}

func pipeClient(t *testing.T) (*Client, *fakeServer) {
	clientSide, serverSide := net.Pipe()
	c := NewClient(1, "test",
		WithSendRate(rate.Inf, 1),
		WithDialer(func(ctx context.Context, p lifecycle.Params) (LineConn, error) {
			return NewLineConn(clientSide), nil
		}),
	)
	return c, &fakeServer{t: t, conn: serverSide, r: bufio.NewReader(serverSide)}
}

func TestClientRegistersWithSASL(t *testing.T) {
	c, srv := pipeClient(t)
	rec := &recorder{}
	params := lifecycle.Params{
		Nick:         "me",
		Username:     "u",
		Realname:     "Real Name",
		Password:     "secret",
		SASLAccount:  "acct",
		SASLPassword: "pw",
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), params, rec) }()

	srv.expect("CAP LS 302")
	srv.expect("PASS secret")
	srv.expect("NICK me")
	srv.expect("USER u 0 * :Real Name")

	srv.send(":srv CAP * LS * :multi-prefix sasl")
	srv.send(":srv CAP * LS :server-time unknown-cap")
	srv.expect("CAP REQ :multi-prefix server-time sasl")

	srv.send(":srv CAP * ACK :multi-prefix server-time sasl")
	srv.expect("AUTHENTICATE PLAIN")
	srv.send("AUTHENTICATE +")
	srv.expect("AUTHENTICATE AGFjY3QAcHc=")
	srv.send(":srv 903 me :SASL authentication successful")
	srv.expect("CAP END")

	srv.send(":srv 001 me :Welcome")
	srv.send(":srv 005 me NETWORK=Example CHANTYPES=# :are supported by this server")
	srv.send("PING :abc")
	srv.expect("PONG abc")

	assert.Equal(t, true, c.Supports("server-time"))
	assert.Equal(t, false, c.Supports("chathistory"))
	assert.Equal(t, "Example", c.NetworkName())
	assert.Equal(t, "#", c.ChanTypes())
	assert.Equal(t, "me", c.CurrentNick())

	srv.send("ERROR :Closing link")
	err := <-done
	assert.Equal(t, true, errors.Is(err, ErrServerClosed))

	assert.Equal(t, []dispatch.Event{
		dispatch.Connecting{},
		dispatch.SocketConnected{},
		dispatch.Connected{},
		dispatch.Registered{Nick: "me", Username: "u"},
		dispatch.ServerOptions{},
		dispatch.SocketClosed{Reason: "closed by server: Closing link"},
	}, rec.kinds())
	assert.Equal(t, "CAP LS 302", rec.sent()[0])
	assert.Equal(t, false, c.Connected())
}

func TestClientWithoutCapabilitiesEndsNegotiation(t *testing.T) {
	c, srv := pipeClient(t)
	rec := &recorder{}

	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background(), lifecycle.Params{Nick: "me", Username: "me", Realname: "r"}, rec)
	}()

	srv.expect("CAP LS 302")
	srv.expect("NICK me")
	srv.expect("USER me 0 * r")
	srv.send(":srv CAP * LS :sasl")
	srv.expect("CAP END")

	srv.conn.Close()
	<-done
	kinds := rec.kinds()
	_, ok := kinds[len(kinds)-1].(dispatch.SocketClosed)
	assert.Equal(t, true, ok)
}

func TestClientHandlerErrorClosesConnection(t *testing.T) {
	c, srv := pipeClient(t)
	fatal := errors.New("fatal")
	rec := &recorder{fail: func(ev dispatch.Event) error {
		if _, ok := ev.(dispatch.NickInUse); ok {
			return fatal
		}
		return nil
	}}

	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background(), lifecycle.Params{Nick: "me", Username: "me"}, rec)
	}()
	srv.expect("CAP LS 302")
	srv.expect("NICK me")
	srv.expect("USER me 0 * :")
	srv.send(":srv 433 * me :Nickname is already in use")

	err := <-done
	assert.Equal(t, fatal, err)
	kinds := rec.kinds()
	assert.Equal(t, dispatch.SocketClosed{Reason: "fatal"}, kinds[len(kinds)-1])
}

func TestClientSendWhileDisconnectedIsDropped(t *testing.T) {
	c := NewClient(1, "test")
	c.Say("#go", "hello")
	c.Join("#go", "")
	assert.Equal(t, false, c.Connected())
	assert.Equal(t, 0, len(c.echo))
}

func TestClientDialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	c := NewClient(1, "test", WithDialer(func(ctx context.Context, p lifecycle.Params) (LineConn, error) {
		return nil, dialErr
	}))
	rec := &recorder{}

	err := c.Run(context.Background(), lifecycle.Params{Nick: "me"}, rec)

	assert.Equal(t, dialErr, err)
	assert.Equal(t, []dispatch.Event{
		dispatch.Connecting{},
		dispatch.SocketClosed{Reason: "connection refused"},
	}, rec.kinds())
}

func TestSuperviseRetriesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0
	c := NewClient(1, "test", WithDialer(func(ctx context.Context, p lifecycle.Params) (LineConn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 3 {
			cancel()
		}
		return nil, errors.New("refused")
	}))

	err := c.Supervise(ctx, func() lifecycle.Params { return lifecycle.Params{Nick: "me"} }, &recorder{}, time.Millisecond)

	assert.Equal(t, true, errors.Is(err, context.Canceled))
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestSuperviseStopsOnNickExhaustion(t *testing.T) {
	c := NewClient(1, "test", WithDialer(func(ctx context.Context, p lifecycle.Params) (LineConn, error) {
		return nil, errors.New("refused")
	}))
	rec := &recorder{fail: func(ev dispatch.Event) error {
		if _, ok := ev.(dispatch.Connecting); ok {
			return lifecycle.ErrNickRetriesExhausted
		}
		return nil
	}}

	err := c.Supervise(context.Background(), func() lifecycle.Params { return lifecycle.Params{} }, rec, time.Millisecond)
	assert.Equal(t, true, errors.Is(err, lifecycle.ErrNickRetriesExhausted))
}

// silentConn never delivers a line. Reads fail once a deadline is set and
// block until Close otherwise.
type silentConn struct {
	mu       sync.Mutex
	deadline time.Time
	closed   chan struct{}
	once     sync.Once
}

func (s *silentConn) ReadLine() (string, error) {
	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()
	if !deadline.IsZero() {
		return "", os.ErrDeadlineExceeded
	}
	<-s.closed
	return "", net.ErrClosed
}

func (s *silentConn) WriteLine(string) error { return nil }

func (s *silentConn) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
	return nil
}

func (s *silentConn) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestClientSilentServerTimesOut(t *testing.T) {
	conn := &silentConn{closed: make(chan struct{})}
	c := NewClient(1, "test", WithDialer(func(ctx context.Context, p lifecycle.Params) (LineConn, error) {
		return conn, nil
	}))
	rec := &recorder{}

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), lifecycle.Params{Nick: "me"}, rec) }()

	select {
	case err := <-done:
		assert.Equal(t, true, errors.Is(err, os.ErrDeadlineExceeded))
	case <-time.After(5 * time.Second):
		conn.Close()
		t.Fatal("read loop waited without a deadline")
	}

	conn.mu.Lock()
	deadline := conn.deadline
	conn.mu.Unlock()
	assert.Equal(t, false, deadline.Before(start.Add(constants.KeepAlive)))
	assert.Equal(t, false, deadline.After(time.Now().Add(constants.KeepAlive+constants.MaxRTT)))

	kinds := rec.kinds()
	_, ok := kinds[len(kinds)-1].(dispatch.SocketClosed)
	assert.Equal(t, true, ok)
}

func TestClientRegistersWithSCRAM(t *testing.T) {
	c, srv := pipeClient(t)
	c.nonce = func() string { return "rOprNGfwEbeRWgbNEkqO" }
	rec := &recorder{}
	params := lifecycle.Params{Nick: "me", Username: "u", Realname: "r", SASLAccount: "user", SASLPassword: "pencil"}

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), params, rec) }()

	srv.expect("CAP LS 302")
	srv.expect("NICK me")
	srv.expect("USER u 0 * r")
	srv.send(":srv CAP * LS :sasl=PLAIN,SCRAM-SHA-256 server-time")
	srv.expect("CAP REQ :server-time sasl")
	srv.send(":srv CAP * ACK :server-time sasl")
	srv.expect("AUTHENTICATE SCRAM-SHA-256")
	srv.send("AUTHENTICATE +")
	// n,,n=user,r=rOprNGfwEbeRWgbNEkqO
	srv.expect("AUTHENTICATE biwsbj11c2VyLHI9ck9wck5HZndFYmVSV2diTkVrcU8=")
	srv.send("AUTHENTICATE cj1yT3ByTkdmd0ViZVJXZ2JORWtxTyVodllEcFdVYTJSYVRDQWZ1eEZJbGopaE5sRiRrMCxzPVcyMlphSjBTTlk3c29Fc1VFamI2Z1E9PSxpPTQwOTY=")
	srv.expect("AUTHENTICATE Yz1iaXdzLHI9ck9wck5HZndFYmVSV2diTkVrcU8laHZZRHBXVWEyUmFUQ0FmdXhGSWxqKWhObEYkazAscD1kSHpiWmFwV0lrNGpVaE4rVXRlOXl0YWc5empmTUhnc3FtbWl6N0FuZFZRPQ==")
	srv.send("AUTHENTICATE dj02cnJpVFJCaTIzV3BSUi93dHVwK21NaFVaVW4vZEI1bkxUSlJzamw5NUc0PQ==")
	srv.expect("AUTHENTICATE +")
	srv.send(":srv 903 me :SASL authentication successful")
	srv.expect("CAP END")

	srv.conn.Close()
	<-done
	for _, ev := range rec.kinds() {
		_, failed := ev.(dispatch.IRCError)
		assert.Equal(t, false, failed)
	}
}

func TestClientFallsBackToPlain(t *testing.T) {
	c, srv := pipeClient(t)
	c.nonce = func() string { return "abc" }
	rec := &recorder{}
	params := lifecycle.Params{Nick: "me", Username: "u", Realname: "r", SASLAccount: "acct", SASLPassword: "pw"}

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), params, rec) }()

	srv.expect("CAP LS 302")
	srv.expect("NICK me")
	srv.expect("USER u 0 * r")
	srv.send(":srv CAP * LS :sasl=SCRAM-SHA-256,PLAIN")
	srv.expect("CAP REQ sasl")
	srv.send(":srv CAP * ACK sasl")
	srv.expect("AUTHENTICATE SCRAM-SHA-256")
	srv.send(":srv 904 me :SASL authentication failed")
	srv.expect("AUTHENTICATE PLAIN")
	srv.send("AUTHENTICATE +")
	srv.expect("AUTHENTICATE AGFjY3QAcHc=")
	srv.send(":srv 903 me :SASL authentication successful")
	srv.expect("CAP END")

	srv.conn.Close()
	<-done
}

func TestClientAbortsSCRAMOnBadSignature(t *testing.T) {
	c, srv := pipeClient(t)
	c.nonce = func() string { return "rOprNGfwEbeRWgbNEkqO" }
	rec := &recorder{}
	params := lifecycle.Params{Nick: "me", Username: "u", Realname: "r", SASLAccount: "user", SASLPassword: "pencil"}

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), params, rec) }()

	srv.expect("CAP LS 302")
	srv.expect("NICK me")
	srv.expect("USER u 0 * r")
	srv.send(":srv CAP * LS :sasl=SCRAM-SHA-256")
	srv.expect("CAP REQ sasl")
	srv.send(":srv CAP * ACK sasl")
	srv.expect("AUTHENTICATE SCRAM-SHA-256")
	srv.send("AUTHENTICATE +")
	srv.expect("AUTHENTICATE biwsbj11c2VyLHI9ck9wck5HZndFYmVSV2diTkVrcU8=")
	srv.send("AUTHENTICATE cj1yT3ByTkdmd0ViZVJXZ2JORWtxTyVodllEcFdVYTJSYVRDQWZ1eEZJbGopaE5sRiRrMCxzPVcyMlphSjBTTlk3c29Fc1VFamI2Z1E9PSxpPTQwOTY=")
	srv.expect("AUTHENTICATE Yz1iaXdzLHI9ck9wck5HZndFYmVSV2diTkVrcU8laHZZRHBXVWEyUmFUQ0FmdXhGSWxqKWhObEYkazAscD1kSHpiWmFwV0lrNGpVaE4rVXRlOXl0YWc5empmTUhnc3FtbWl6N0FuZFZRPQ==")
	// v=AAAA
	srv.send("AUTHENTICATE dj1BQUFB")
	srv.expect("AUTHENTICATE *")
	srv.expect("CAP END")

	srv.conn.Close()
	<-done
	assert.Equal(t, true, containsEvent(rec.kinds(), dispatch.IRCError{Error: "sasl_failed", Reason: "server signature mismatch"}))
}

func containsEvent(evs []dispatch.Event, want dispatch.Event) bool {
	for _, ev := range evs {
		if ev == want {
			return true
		}
	}
	return false
}
