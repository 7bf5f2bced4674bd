// Package notifications maintains the user's notification feed: a
// baseline fetch over the api client plus a websocket push channel that
// appends new records as they happen. The feed and its unread count are
// mutated together under one lock so no reader ever observes them
// disagreeing.
package notifications

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/packlane/storefront-sync/internal/api"
	"github.com/packlane/storefront-sync/pkg/config"
	pkgerrors "github.com/packlane/storefront-sync/pkg/errors"
	"github.com/packlane/storefront-sync/pkg/logger"
	"github.com/packlane/storefront-sync/pkg/metrics"
	"github.com/sethvargo/go-retry"
)

// State is the push channel connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const eventNewNotification = "newNotification"

type remoteFeed interface {
	ListNotifications(ctx context.Context) (*api.NotificationList, error)
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

type pushEvent struct {
	Type         string           `json:"type"`
	Notification api.Notification `json:"notification"`
}

type subscribeMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// Params bundles the dependencies required to build a channel.
type Params struct {
	UserID  string
	Remote  remoteFeed
	Tokens  api.TokenSource
	Config  config.PushConfig
	Logger  *logger.Logger
	Metrics *metrics.SyncMetrics
}

// Channel owns the notification feed for one session.
type Channel struct {
	mu      sync.Mutex
	state   State
	records []api.Notification
	unread  int
	closed  bool
	cancel  context.CancelFunc
	conn    *websocket.Conn

	userID  string
	remote  remoteFeed
	tokens  api.TokenSource
	cfg     config.PushConfig
	log     *logger.Logger
	metrics *metrics.SyncMetrics
}

// NewChannel wires a channel in the Disconnected state; Connect starts it.
func NewChannel(params Params) (*Channel, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("user id required")
	}
	if params.Remote == nil {
		return nil, fmt.Errorf("remote feed client required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token source required")
	}
	if params.Config.URL == "" {
		return nil, fmt.Errorf("push url required")
	}
	if params.Config.ReconnectBase <= 0 {
		params.Config.ReconnectBase = time.Second
	}
	if params.Config.ReconnectMax <= 0 {
		params.Config.ReconnectMax = time.Minute
	}
	return &Channel{
		state:   StateDisconnected,
		userID:  params.UserID,
		remote:  params.Remote,
		tokens:  params.Tokens,
		cfg:     params.Config,
		log:     params.Logger,
		metrics: params.Metrics,
	}, nil
}

// Connect fetches the authoritative feed, then dials the push channel and
// starts consuming events. The baseline fetch always precedes push
// consumption so the feed never starts from pushes alone.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeInternal, "notification channel is closed")
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeInternal, "notification channel already started")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.baseline(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return pkgerrors.New(pkgerrors.CodeInternal, "notification channel is closed")
	}
	c.state = StateConnected
	c.cancel = cancel
	c.conn = conn
	c.mu.Unlock()

	go c.run(runCtx, conn)
	return nil
}

// Snapshot returns the feed and unread count captured under one lock hold.
func (c *Channel) Snapshot() ([]api.Notification, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.Notification, len(c.records))
	copy(out, c.records)
	return out, c.unread
}

func (c *Channel) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkAllRead flips every record to read locally, then tells the remote.
// A remote failure is surfaced as retryable but the local mutation is
// kept; the next baseline fetch restores the authoritative state.
func (c *Channel) MarkAllRead(ctx context.Context) error {
	c.mu.Lock()
	for i := range c.records {
		c.records[i].Read = true
	}
	c.unread = 0
	c.mu.Unlock()

	if err := c.remote.MarkAllNotificationsRead(ctx); err != nil {
		return c.asChannelError(err, "marking notifications read remotely failed")
	}
	return nil
}

// Delete removes the record locally, then tells the remote. Same leniency
// as MarkAllRead: no rollback on remote failure.
func (c *Channel) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	found := false
	for i := range c.records {
		if c.records[i].ID != id {
			continue
		}
		if !c.records[i].Read {
			c.unread--
		}
		c.records = append(c.records[:i], c.records[i+1:]...)
		found = true
		break
	}
	c.mu.Unlock()
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not in feed")
	}

	if err := c.remote.DeleteNotification(ctx, id); err != nil {
		return c.asChannelError(err, "deleting notification remotely failed")
	}
	return nil
}

// Reset drops the feed from memory; used on logout.
func (c *Channel) Reset() {
	c.mu.Lock()
	c.records = nil
	c.unread = 0
	c.mu.Unlock()
}

// Close tears down the push connection. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateDisconnected
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// baseline replaces the feed wholesale with the authoritative list.
func (c *Channel) baseline(ctx context.Context) error {
	list, err := c.remote.ListNotifications(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.records = make([]api.Notification, len(list.Items))
	copy(c.records, list.Items)
	c.unread = list.UnreadCount
	c.mu.Unlock()
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeAuth, err, "push channel rejected credentials")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeChannel, err, "dial push channel")
	}

	if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", UserID: c.userID}); err != nil {
		_ = conn.Close()
		return nil, pkgerrors.Wrap(pkgerrors.CodeChannel, err, "announce subscription")
	}
	return conn, nil
}

// run consumes push events until the connection drops, then reconnects
// with exponential backoff. Every reconnect re-issues the baseline fetch
// first, since pushes dropped during the gap are never replayed.
func (c *Channel) run(ctx context.Context, conn *websocket.Conn) {
	for {
		err := c.consume(conn)
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		c.setState(StateDisconnected)
		if c.log != nil {
			c.log.Warn(c.log.WithField(ctx, "error", err.Error()), "push channel dropped, reconnecting")
		}

		conn = c.reconnect(ctx)
		if conn == nil {
			return
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.state = StateConnected
		c.conn = conn
		c.mu.Unlock()
	}
}

func (c *Channel) consume(conn *websocket.Conn) error {
	for {
		var event pushEvent
		if err := conn.ReadJSON(&event); err != nil {
			return err
		}
		if event.Type != eventNewNotification {
			continue
		}

		c.metrics.IncPushEvent()
		c.mu.Lock()
		c.records = append([]api.Notification{event.Notification}, c.records...)
		if !event.Notification.Read {
			c.unread++
		}
		c.mu.Unlock()
	}
}

// reconnect retries baseline-then-dial until it succeeds or the channel
// shuts down. Returns nil only on shutdown.
func (c *Channel) reconnect(ctx context.Context) *websocket.Conn {
	backoff := retry.WithCappedDuration(c.cfg.ReconnectMax, retry.NewExponential(c.cfg.ReconnectBase))

	var conn *websocket.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c.setState(StateConnecting)
		c.metrics.IncReconnect()
		if err := c.baseline(ctx); err != nil {
			return retry.RetryableError(err)
		}
		dialed, err := c.dial(ctx)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeAuth) {
				return err
			}
			return retry.RetryableError(err)
		}
		conn = dialed
		return nil
	})
	if err != nil {
		c.setState(StateDisconnected)
		if c.log != nil {
			c.log.Error(ctx, "push channel reconnect abandoned", err)
		}
		return nil
	}
	return conn
}

func (c *Channel) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) asChannelError(err error, msg string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, msg)
}

// unreadConsistent recomputes the unread count from the records. Test
// hook for the derived-count invariant.
func (c *Channel) unreadConsistent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, record := range c.records {
		if !record.Read {
			count++
		}
	}
	return count == c.unread
}
