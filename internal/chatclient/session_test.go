package chatclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamify/backend/internal/models"
)

type tokenSourceStub struct {
	token models.ProviderToken
	err   error
	calls int
	mu    sync.Mutex
}

func (t *tokenSourceStub) Token(context.Context) (models.ProviderToken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return t.token, t.err
}

type channelStub struct {
	id       string
	mu       sync.Mutex
	messages []string
	sendErr  error
}

func (c *channelStub) ID() string { return c.id }

func (c *channelStub) SendMessage(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, text)
	return c.sendErr
}

func (c *channelStub) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

type connStub struct {
	mu           sync.Mutex
	watchErr     error
	watched      []string
	members      []string
	channel      *channelStub
	disconnected int
}

func (c *connStub) WatchChannel(_ context.Context, channelType, channelID string, members []string) (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchErr != nil {
		return nil, c.watchErr
	}
	c.watched = append(c.watched, channelType+":"+channelID)
	c.members = members
	c.channel = &channelStub{id: channelID}
	return c.channel, nil
}

func (c *connStub) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected++
	return nil
}

type chatStub struct {
	conn       *connStub
	connectErr error
	block      chan struct{}
	user       models.ProviderIdentity
}

func (c *chatStub) Connect(ctx context.Context, user models.ProviderIdentity, _, _ string) (ChatConnection, error) {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	c.user = user
	return c.conn, nil
}

type callStub struct {
	id     string
	left   chan struct{}
	once   sync.Once
	leaves int
	mu     sync.Mutex
}

func newCallStub(id string) *callStub {
	return &callStub{id: id, left: make(chan struct{})}
}

func (c *callStub) ID() string            { return c.id }
func (c *callStub) Left() <-chan struct{} { return c.left }

func (c *callStub) Leave(context.Context) error {
	c.mu.Lock()
	c.leaves++
	c.mu.Unlock()
	c.end()
	return nil
}

func (c *callStub) end() { c.once.Do(func() { close(c.left) }) }

type videoClientStub struct {
	mu           sync.Mutex
	joins        int
	joinErr      error
	joinedType   string
	joinedID     string
	create       bool
	call         *callStub
	release      chan struct{}
	entered      chan struct{}
	disconnected int
}

func (v *videoClientStub) JoinCall(ctx context.Context, callType, callID string, create bool) (VideoCall, error) {
	v.mu.Lock()
	v.joins++
	v.joinedType, v.joinedID, v.create = callType, callID, create
	v.mu.Unlock()

	if v.entered != nil {
		close(v.entered)
	}
	if v.release != nil {
		select {
		case <-v.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if v.joinErr != nil {
		return nil, v.joinErr
	}
	v.call = newCallStub(callType + ":" + callID)
	return v.call, nil
}

func (v *videoClientStub) Disconnect(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disconnected++
	return nil
}

func (v *videoClientStub) Joins() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.joins
}

func (v *videoClientStub) Disconnected() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disconnected
}

type videoStub struct {
	client *videoClientStub
	err    error
	builds int
	mu     sync.Mutex
}

func (v *videoStub) NewClient(context.Context, models.ProviderIdentity, string, string) (VideoClient, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.builds++
	if v.err != nil {
		return nil, v.err
	}
	return v.client, nil
}

type harness struct {
	tokens *tokenSourceStub
	chat   *chatStub
	conn   *connStub
	video  *videoStub
	client *videoClientStub
}

func newHarness() *harness {
	conn := &connStub{}
	client := &videoClientStub{}
	return &harness{
		tokens: &tokenSourceStub{token: models.ProviderToken{
			Token:  "provider-token",
			APIKey: "key",
			User:   models.ProviderIdentity{ID: "u2", Name: "Me"},
		}},
		chat:   &chatStub{conn: conn},
		conn:   conn,
		video:  &videoStub{client: client},
		client: client,
	}
}

func (h *harness) session() *Session {
	return NewSession(Config{
		Tokens:      h.tokens,
		Chat:        h.chat,
		Video:       h.video,
		CallBaseURL: "https://app.example",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func closeSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
}

func TestOpenConnectsAndWatchesSortedChannel(t *testing.T) {
	h := newHarness()
	s := h.session()
	defer closeSession(t, s)

	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Channel())

	require.NoError(t, s.Open(context.Background(), "u1"))

	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, []string{"messaging:u1-u2"}, h.conn.watched)
	assert.Equal(t, []string{"u2", "u1"}, h.conn.members)
	require.NotNil(t, s.Channel())
	assert.Equal(t, "u1-u2", s.Channel().ID())
	assert.Equal(t, "u2", h.chat.user.ID)
}

func TestOpenTokenFailure(t *testing.T) {
	h := newHarness()
	h.tokens.err = errors.New("401")
	s := h.session()
	defer closeSession(t, s)

	err := s.Open(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, StateTokenError, s.State())
	assert.ErrorIs(t, s.Err(), ErrProviderUnavailable)
	assert.Nil(t, s.Channel())

	h.tokens.mu.Lock()
	h.tokens.err = nil
	h.tokens.mu.Unlock()
	require.NoError(t, s.Open(context.Background(), "u1"))
	assert.Equal(t, StateConnected, s.State())
}

func TestOpenConnectFailureReturnsToIdle(t *testing.T) {
	h := newHarness()
	h.chat.connectErr = errors.New("ws refused")
	s := h.session()
	defer closeSession(t, s)

	err := s.Open(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, StateIdle, s.State())
	assert.Error(t, s.Err())
}

func TestOpenWatchFailureReleasesConnection(t *testing.T) {
	h := newHarness()
	h.conn.watchErr = errors.New("no permission")
	s := h.session()
	defer closeSession(t, s)

	err := s.Open(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 1, h.conn.disconnected)
	assert.Nil(t, s.Channel())
}

func TestOpenTwiceIsRejected(t *testing.T) {
	h := newHarness()
	s := h.session()
	defer closeSession(t, s)

	require.NoError(t, s.Open(context.Background(), "u1"))
	assert.ErrorIs(t, s.Open(context.Background(), "u1"), ErrInvalidState)
}

func TestStartCallJoinsAndAnnounces(t *testing.T) {
	h := newHarness()
	s := h.session()
	defer closeSession(t, s)

	require.NoError(t, s.Open(context.Background(), "u1"))
	require.NoError(t, s.StartCall(context.Background()))

	assert.Equal(t, StateInCall, s.State())
	assert.Equal(t, 1, h.client.Joins())
	assert.Equal(t, "default", h.client.joinedType)
	assert.Equal(t, "u1-u2", h.client.joinedID)
	assert.True(t, h.client.create)
	assert.Equal(t, []string{"I've started a video call. Join me here: https://app.example/call/u1-u2"}, h.conn.channel.Messages())
}

func TestStartCallAnnouncesTokenCallBaseURL(t *testing.T) {
	h := newHarness()
	h.tokens.token.CallBaseURL = "https://calls.example"
	s := NewSession(Config{
		Tokens: h.tokens,
		Chat:   h.chat,
		Video:  h.video,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer closeSession(t, s)

	require.NoError(t, s.Open(context.Background(), "u1"))
	require.NoError(t, s.StartCall(context.Background()))

	assert.Equal(t, []string{"I've started a video call. Join me here: https://calls.example/call/u1-u2"}, h.conn.channel.Messages())
}

func TestStartCallRequiresConnection(t *testing.T) {
	h := newHarness()
	s := h.session()
	defer closeSession(t, s)

	assert.ErrorIs(t, s.StartCall(context.Background()), ErrInvalidState)
	assert.Equal(t, 0, h.client.Joins())
}

func TestStartCallConcurrentRepeatsJoinOnce(t *testing.T) {
	h := newHarness()
	h.client.release = make(chan struct{})
	h.client.entered = make(chan struct{})
	s := h.session()
	defer closeSession(t, s)

	require.NoError(t, s.Open(context.Background(), "u1"))

	first := make(chan error, 1)
	go func() { first <- s.StartCall(context.Background()) }()
	<-h.client.entered

	assert.Equal(t, StateCallJoining, s.State())
	for i := 0; i < 5; i++ {
		assert.NoError(t, s.StartCall(context.Background()))
	}

	close(h.client.release)
	require.NoError(t, <-first)
	assert.NoError(t, s.StartCall(context.Background()))

	assert.Equal(t, 1, h.client.Joins())
	assert.Equal(t, StateInCall, s.State())
	assert.Len(t, h.conn.channel.Messages(), 1)
}

func TestStartCallJoinFailureReturnsToConnected(t *testing.T) {
	h := newHarness()
	h.client.joinErr = errors.New("sfu down")
	s := h.session()
	defer closeSession(t, s)

	require.NoError(t, s.Open(context.Background(), "u1"))
	err := s.StartCall(context.Background())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 1, h.client.Disconnected())
	assert.Empty(t, h.conn.channel.Messages())

	h.client.mu.Lock()
	h.client.joinErr = nil
	h.client.mu.Unlock()
	require.NoError(t, s.StartCall(context.Background()))
	assert.Equal(t, StateInCall, s.State())
}

func TestStartCallAnnouncementFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	s := h.session()
	defer closeSession(t, s)

	require.NoError(t, s.Open(context.Background(), "u1"))
	h.conn.channel.sendErr = errors.New("rate limited")

	require.NoError(t, s.StartCall(context.Background()))
	assert.Equal(t, StateInCall, s.State())
}

func TestCallLeftSignalReturnsToConnected(t *testing.T) {
	h := newHarness()
	s := h.session()
	defer closeSession(t, s)

	require.NoError(t, s.Open(context.Background(), "u1"))
	require.NoError(t, s.StartCall(context.Background()))

	h.client.call.end()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, time.Second, 5*time.Millisecond)
	assert.Nil(t, s.Call())
	require.Eventually(t, func() bool { return h.client.Disconnected() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.StartCall(context.Background()))
	assert.Equal(t, 2, h.client.Joins())
}

func TestLeaveCall(t *testing.T) {
	h := newHarness()
	s := h.session()
	defer closeSession(t, s)

	require.NoError(t, s.Open(context.Background(), "u1"))
	require.NoError(t, s.LeaveCall(context.Background()))

	require.NoError(t, s.StartCall(context.Background()))
	call := h.client.call
	require.NoError(t, s.LeaveCall(context.Background()))

	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 1, call.leaves)
	assert.Equal(t, 1, h.client.Disconnected())
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness()
	s := h.session()

	require.NoError(t, s.Open(context.Background(), "u1"))
	require.NoError(t, s.StartCall(context.Background()))
	call := h.client.call

	closeSession(t, s)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, call.leaves)
	assert.Equal(t, 1, h.client.Disconnected())
	assert.Equal(t, 1, h.conn.disconnected)
	assert.Nil(t, s.Channel())

	assert.ErrorIs(t, s.Open(context.Background(), "u1"), ErrClosed)
	assert.ErrorIs(t, s.StartCall(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.LeaveCall(context.Background()), ErrClosed)
	require.NoError(t, s.Close(context.Background()))
}

func TestCloseCancelsInFlightOpen(t *testing.T) {
	h := newHarness()
	h.chat.block = make(chan struct{})
	s := h.session()

	result := make(chan error, 1)
	go func() { result <- s.Open(context.Background(), "u1") }()

	require.Eventually(t, func() bool { return s.State() == StateConnecting }, time.Second, 5*time.Millisecond)
	closeSession(t, s)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("open did not return after close")
	}
	assert.Equal(t, StateClosed, s.State())
}

func TestCloseCancelsInFlightJoin(t *testing.T) {
	h := newHarness()
	h.client.release = make(chan struct{})
	h.client.entered = make(chan struct{})
	s := h.session()

	require.NoError(t, s.Open(context.Background(), "u1"))

	result := make(chan error, 1)
	go func() { result <- s.StartCall(context.Background()) }()
	<-h.client.entered

	closeSession(t, s)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("start call did not return after close")
	}
	assert.Equal(t, 1, h.client.Disconnected())
	assert.Equal(t, 1, h.conn.disconnected)
}

func TestCloseRacingStartCallReleasesCall(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness()
		s := h.session()
		require.NoError(t, s.Open(context.Background(), "u1"))

		started := make(chan error, 1)
		go func() { started <- s.StartCall(context.Background()) }()

		closeSession(t, s)

		select {
		case err := <-started:
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
			}
		case <-time.After(time.Second):
			t.Fatal("start call did not return after close")
		}

		assert.Equal(t, StateClosed, s.State())
		if call := h.client.call; call != nil {
			select {
			case <-call.Left():
			default:
				t.Fatal("joined call was not left after close")
			}
		}
	}
}

func TestHTTPTokenSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/get-stream-token" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer access" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok","apiKey":"key","expiresAt":"2024-06-01T12:00:00Z","user":{"id":"u2","name":"Me","image":""}}`))
	}))
	defer server.Close()

	source := NewHTTPTokenSource(server.URL+"/", func() string { return "access" })
	token, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token.Token)
	assert.Equal(t, "key", token.APIKey)
	assert.Equal(t, "u2", token.User.ID)

	wrong := NewHTTPTokenSource(server.URL, func() string { return "other" })
	_, err = wrong.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)

	anonymous := NewHTTPTokenSource(server.URL, nil)
	_, err = anonymous.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "tokenError", StateTokenError.String())
	assert.Equal(t, "inCall", StateInCall.String())
	assert.Equal(t, "State(42)", State(42).String())
}
