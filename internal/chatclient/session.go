package chatclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamify/backend/internal/channel"
	"github.com/streamify/backend/internal/models"
)

var (
	// ErrProviderUnavailable wraps every failure to obtain credentials or to
	// reach the chat or video provider.
	ErrProviderUnavailable = errors.New("chat provider unavailable")
	// ErrClosed is returned by every operation on a closed session.
	ErrClosed = errors.New("chat session closed")
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("operation not allowed in current session state")
)

// State enumerates the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateTokenLoading
	StateTokenError
	StateConnecting
	StateConnected
	StateCallJoining
	StateInCall
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTokenLoading:
		return "tokenLoading"
	case StateTokenError:
		return "tokenError"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateCallJoining:
		return "callJoining"
	case StateInCall:
		return "inCall"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const releaseTimeout = 5 * time.Second

// Config wires a Session to its collaborators.
type Config struct {
	Tokens      TokenSource
	Chat        ChatProvider
	Video       VideoProvider
	// CallBaseURL overrides the call link origin handed out with the token.
	CallBaseURL string
	Logger      *slog.Logger
}

// Session owns one chat connection, the channel with a single peer and at
// most one video call. Every provider resource it acquires is released by
// Close, and in-flight operations are cancelled when the session closes.
type Session struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	joining atomic.Bool

	mu        sync.Mutex
	state     State
	lastErr   error
	token     models.ProviderToken
	conn      ChatConnection
	channel   Channel
	channelID string
	video     VideoClient
	call      VideoCall
}

// NewSession constructs an idle Session.
func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session into its current state, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Channel returns the watched channel, or nil before the session is connected.
func (s *Session) Channel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Call returns the active call, or nil when not in a call.
func (s *Session) Call() VideoCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

// Open fetches credentials, connects the chat and watches the one-to-one
// channel with targetUserID. It may be retried after a token or connect failure.
func (s *Session) Open(ctx context.Context, targetUserID string) error {
	if targetUserID == "" {
		return errors.New("chatclient: target user id must be provided")
	}

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateIdle, StateTokenError:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: open from %s", ErrInvalidState, state)
	}
	s.state = StateTokenLoading
	s.lastErr = nil
	s.mu.Unlock()

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	token, err := s.cfg.Tokens.Token(opCtx)
	if err == nil && token.Token == "" {
		err = errors.New("empty provider token")
	}
	if err != nil {
		return s.fail(StateTokenError, fmt.Errorf("%w: fetch token: %v", ErrProviderUnavailable, err))
	}

	if !s.transition(StateTokenLoading, StateConnecting) {
		return ErrClosed
	}

	conn, err := s.cfg.Chat.Connect(opCtx, token.User, token.APIKey, token.Token)
	if err != nil {
		return s.fail(StateIdle, fmt.Errorf("%w: connect chat: %v", ErrProviderUnavailable, err))
	}

	channelID := channel.ID(token.User.ID, targetUserID)
	watched, err := conn.WatchChannel(opCtx, channel.ChatType, channelID, []string{token.User.ID, targetUserID})
	if err != nil {
		s.release(conn.Disconnect)
		return s.fail(StateIdle, fmt.Errorf("%w: watch channel %s: %v", ErrProviderUnavailable, channelID, err))
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.release(conn.Disconnect)
		return ErrClosed
	}
	s.token = token
	s.conn = conn
	s.channel = watched
	s.channelID = channelID
	s.state = StateConnected
	s.mu.Unlock()

	s.logger.Info("chat session connected", "userId", token.User.ID, "channelId", channelID)
	return nil
}

// StartCall joins the video call bound to the channel and announces it in the
// chat. Repeated calls while joining or already in the call are no-ops.
func (s *Session) StartCall(ctx context.Context) error {
	if !s.joining.CompareAndSwap(false, true) {
		return nil
	}
	defer s.joining.Store(false)

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateInCall:
		s.mu.Unlock()
		return nil
	case StateConnected:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start call from %s", ErrInvalidState, state)
	}
	s.state = StateCallJoining
	token, channelID, chat := s.token, s.channelID, s.channel
	s.mu.Unlock()

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	video, err := s.cfg.Video.NewClient(opCtx, token.User, token.APIKey, token.Token)
	if err != nil {
		return s.fail(StateConnected, fmt.Errorf("%w: video client: %v", ErrProviderUnavailable, err))
	}

	call, err := video.JoinCall(opCtx, channel.CallType, channelID, true)
	if err != nil {
		s.release(video.Disconnect)
		return s.fail(StateConnected, fmt.Errorf("%w: join call %s: %v", ErrProviderUnavailable, channelID, err))
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.release(call.Leave)
		s.release(video.Disconnect)
		return ErrClosed
	}
	s.video = video
	s.call = call
	s.state = StateInCall
	s.lastErr = nil
	s.wg.Add(1)
	s.mu.Unlock()

	go s.watchCall(call)

	baseURL := s.cfg.CallBaseURL
	if baseURL == "" {
		baseURL = token.CallBaseURL
	}
	announcement := channel.CallAnnouncement(channel.CallURL(baseURL, channelID))
	if err := chat.SendMessage(opCtx, announcement); err != nil {
		s.logger.Warn("call announcement failed", "channelId", channelID, "error", err)
	}

	s.logger.Info("video call joined", "callId", call.ID())
	return nil
}

// LeaveCall leaves the active call and releases the video client.
func (s *Session) LeaveCall(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	call, video := s.call, s.video
	if call == nil {
		s.mu.Unlock()
		return nil
	}
	s.call, s.video = nil, nil
	s.state = StateConnected
	s.mu.Unlock()

	var errs []error
	if err := call.Leave(ctx); err != nil {
		errs = append(errs, fmt.Errorf("leave call: %w", err))
	}
	if video != nil {
		if err := video.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect video: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close cancels in-flight operations and releases the call, the video client
// and the chat connection. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	call, video, conn := s.call, s.video, s.conn
	s.call, s.video, s.conn, s.channel = nil, nil, nil, nil
	s.mu.Unlock()

	s.cancel()

	var errs []error
	if call != nil {
		if err := call.Leave(ctx); err != nil {
			errs = append(errs, fmt.Errorf("leave call: %w", err))
		}
	}
	if video != nil {
		if err := video.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect video: %w", err))
		}
	}
	if conn != nil {
		if err := conn.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect chat: %w", err))
		}
	}

	s.wg.Wait()
	return errors.Join(errs...)
}

func (s *Session) watchCall(call VideoCall) {
	defer s.wg.Done()

	select {
	case <-s.ctx.Done():
		return
	case <-call.Left():
	}

	s.mu.Lock()
	if s.call != call {
		s.mu.Unlock()
		return
	}
	video := s.video
	s.call, s.video = nil, nil
	if s.state == StateInCall {
		s.state = StateConnected
	}
	s.mu.Unlock()

	if video != nil {
		s.release(video.Disconnect)
	}
	s.logger.Info("video call left", "callId", call.ID())
}

// operationContext derives a context that ends with either the caller's
// context or the session lifetime.
func (s *Session) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// transition moves from one state to another unless the session closed meanwhile.
func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// fail records err and moves to state, unless the session closed meanwhile.
func (s *Session) fail(state State, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	s.state = state
	s.lastErr = err
	s.logger.Warn("chat session operation failed", "state", state.String(), "error", err)
	return err
}

func (s *Session) release(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.logger.Warn("release provider resource", "error", err)
	}
}
