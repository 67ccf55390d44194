package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/session-foundation/seshd/internal/configstore"
	"github.com/session-foundation/seshd/internal/retry"
	"github.com/session-foundation/seshd/internal/sync"
	"go.uber.org/zap"
)

// Conn abstracts the WebSocket connection for testability.
// The real implementation is gorilla/websocket; tests use a channel pair.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a connection to a storage node.
type Dialer func(ctx context.Context, url string) (Conn, error)

// WebsocketDialer dials a real storage node over websocket.
func WebsocketDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial swarm node %s: %w", url, err)
	}
	return conn, nil
}

// Handler applies one pulled config push. The sync engine implements it;
// a returned error means the blob was not merged and must be redelivered.
type Handler interface {
	HandleIncoming(in sync.Incoming) error
}

// Client talks to one storage node of the account's swarm. It uploads
// pending config pushes and polls for pushes written by the user's other
// devices, handing each pulled blob to the handler synchronously. The
// retrieve cursor only advances past blobs the handler accepted, so a blob
// whose merge failed comes back on the next poll cycle.
//
// Requests run one at a time over the single connection; the per-request
// lock keeps the write/read pairing intact.
type Client struct {
	url          string
	pubkey       string
	dial         Dialer
	handler      Handler
	logger       *zap.Logger
	pollInterval time.Duration

	mu       gosync.Mutex
	conn     Conn
	lastHash map[string]string

	cancel context.CancelFunc
}

// NewClient creates a swarm client for the given node URL and account key.
func NewClient(url, pubkey string, dial Dialer, handler Handler, logger *zap.Logger, pollInterval time.Duration) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dial == nil {
		dial = WebsocketDialer
	}
	return &Client{
		url:          url,
		pubkey:       pubkey,
		dial:         dial,
		handler:      handler,
		logger:       logger,
		pollInterval: pollInterval,
		lastHash:     make(map[string]string),
	}
}

// Start begins the poll loop.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx)
}

// Stop stops the poll loop and closes the connection.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) loop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Poll(ctx); err != nil {
				c.logger.Warn("swarm poll failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Upload stores one serialized config push on the swarm.
func (c *Client) Upload(ctx context.Context, variant, owner string, blob []byte, hash string, seqno int64) error {
	params, err := json.Marshal(StoreParams{
		Variant: variant,
		Owner:   owner,
		Blob:    blob,
		Hash:    hash,
		Seqno:   seqno,
	})
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, "store", params)
	if err != nil {
		return err
	}
	// Our own push is now the newest blob in that namespace; skip pulling
	// it back just to merge a no-op.
	c.mu.Lock()
	c.lastHash[variant+"/"+owner] = hash
	c.mu.Unlock()
	return nil
}

// Poll retrieves config blobs newer than what this client has merged and
// feeds them to the handler in order. A blob the handler rejects leaves its
// namespace's cursor where it was; later blobs for the same namespace are
// held back too, so redelivery replays them in order.
func (c *Client) Poll(ctx context.Context) error {
	c.mu.Lock()
	since := make(map[string]string, len(c.lastHash))
	for k, v := range c.lastHash {
		since[k] = v
	}
	c.mu.Unlock()

	params, err := json.Marshal(RetrieveParams{PubKey: c.pubkey, Since: since})
	if err != nil {
		return err
	}
	raw, err := c.roundTrip(ctx, "retrieve", params)
	if err != nil {
		return err
	}

	var result RetrieveResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode retrieve result: %w", err)
	}

	stalled := make(map[string]bool)
	for _, msg := range result.Messages {
		ns := msg.Variant + "/" + msg.Owner
		if stalled[ns] {
			continue
		}
		variant, err := configstore.ParseVariant(msg.Variant)
		if err != nil {
			c.logger.Warn("swarm returned unknown variant", zap.String("variant", msg.Variant))
			continue
		}
		if err := c.handler.HandleIncoming(sync.Incoming{
			Variant: variant,
			Owner:   msg.Owner,
			Blob:    msg.Blob,
			Hash:    msg.Hash,
		}); err != nil {
			c.logger.Warn("pulled config push not applied, retrying next poll",
				zap.String("variant", msg.Variant),
				zap.String("owner", msg.Owner),
				zap.Error(err))
			stalled[ns] = true
			continue
		}
		c.mu.Lock()
		c.lastHash[ns] = msg.Hash
		c.mu.Unlock()
	}
	return nil
}

// roundTrip sends one request and reads its response, reconnecting with
// backoff if the connection is gone.
func (c *Client) roundTrip(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := Request{ID: uuid.NewString(), Method: method, Params: params}
	var resp Response

	err := retry.DoSimple(ctx, 3, func() error {
		if c.conn == nil {
			conn, err := c.dial(ctx, c.url)
			if err != nil {
				return err
			}
			c.conn = conn
		}
		if err := c.conn.WriteJSON(req); err != nil {
			c.dropConn()
			return err
		}
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.dropConn()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp.ID != req.ID {
		c.dropConn()
		return nil, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("swarm node error: %s", resp.Error)
	}
	return resp.Result, nil
}

func (c *Client) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
