// Package directory is the client side of the directory protocol.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/p2p-share/internal/convert"
	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/wire"
)

// DefaultTimeout bounds one request/response exchange when ctx has no deadline.
const DefaultTimeout = 10 * time.Second

// ErrNotLoggedIn is returned by authenticated calls made before Login.
var ErrNotLoggedIn = errors.New("not logged in")

// Client issues one request at a time over a single directory connection.
type Client struct {
	conn    net.Conn
	timeout time.Duration
	log     *zap.Logger
	ids     atomic.Uint32

	mu       sync.Mutex
	email    string
	token    string
	username string
}

// Dial connects to the directory server at addr.
func Dial(ctx context.Context, addr string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	var d net.Dialer
	dctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial directory %s: %w", addr, err)
	}
	return New(conn, timeout, log), nil
}

// New wraps an established connection.
func New(conn net.Conn, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{conn: conn, timeout: timeout, log: log}
}

// Close closes the connection without logging out.
func (c *Client) Close() error { return c.conn.Close() }

// LocalAddr is the client side of the directory connection.
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Session returns the logged-in email and display name.
func (c *Client) Session() (email, username string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.email, c.username, c.token != ""
}

// roundTrip sends req and reads the matching response. The caller holds c.mu.
func (c *Client) roundTrip(ctx context.Context, cmd wire.Command, req, resp wire.Message) error {
	id := c.ids.Add(1)
	*req.Hdr() = wire.Header{Command: cmd, RequestID: id}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := wire.Write(c.conn, req); err != nil {
		return c.ioErr(ctx, cmd, err)
	}
	if err := wire.Read(c.conn, cmd, resp); err != nil {
		return c.ioErr(ctx, cmd, err)
	}
	if got := resp.Hdr().RequestID; got != id {
		return fmt.Errorf("%w: %s reply for request %d, want %d", errs.ErrProtocol, cmd, got, id)
	}
	return nil
}

func (c *Client) ioErr(ctx context.Context, cmd wire.Command, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w", cmd, err)
}

func (c *Client) auth() (wire.Auth, error) {
	if c.token == "" {
		return wire.Auth{}, ErrNotLoggedIn
	}
	return wire.Auth{Email: c.email, Token: c.token}, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, email, username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res wire.StatusResponse
	err := c.roundTrip(ctx, wire.CmdRegister, &wire.RegisterRequest{Email: email, Username: username, Password: password}, &res)
	if err != nil {
		return err
	}
	return convert.ErrorFromStatus(res.Status)
}

// Login opens a session and announces p2pPort (0 lets the server use this
// connection's source port). It returns the account's display name.
func (c *Client) Login(ctx context.Context, email, password string, p2pPort int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res wire.LoginResponse
	req := &wire.LoginRequest{Email: email, Password: password, Port: int32(p2pPort)}
	if err := c.roundTrip(ctx, wire.CmdLogin, req, &res); err != nil {
		return "", err
	}
	if err := convert.ErrorFromStatus(res.Status); err != nil {
		return "", err
	}
	c.email, c.token, c.username = email, res.Token, res.Username
	c.log.Debug("logged in", zap.String("email", email))
	return res.Username, nil
}

// Logout ends the session. The server closes the connection afterwards, so
// the client is unusable once Logout returns.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.conn.Close()

	a, err := c.auth()
	if err != nil {
		return err
	}
	var res wire.StatusResponse
	if err := c.roundTrip(ctx, wire.CmdLogout, &wire.LogoutRequest{Auth: a}, &res); err != nil {
		return err
	}
	c.email, c.token, c.username = "", "", ""
	return convert.ErrorFromStatus(res.Status)
}

// Search lists files whose name contains keyword. No match is errs.ErrNotFound.
func (c *Client) Search(ctx context.Context, keyword string) ([]model.FileSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, err := c.auth()
	if err != nil {
		return nil, err
	}
	var res wire.FileListResponse
	if err := c.roundTrip(ctx, wire.CmdSearch, &wire.SearchRequest{Auth: a, Keyword: keyword}, &res); err != nil {
		return nil, err
	}
	if err := convert.ErrorFromStatus(res.Status); err != nil {
		return nil, err
	}
	return convert.FromWireFiles(res.Files), nil
}

// Browse lists every published file.
func (c *Client) Browse(ctx context.Context) ([]model.FileSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, err := c.auth()
	if err != nil {
		return nil, err
	}
	var res wire.FileListResponse
	if err := c.roundTrip(ctx, wire.CmdBrowse, &wire.BrowseRequest{Auth: a}, &res); err != nil {
		return nil, err
	}
	if err := convert.ErrorFromStatus(res.Status); err != nil {
		return nil, err
	}
	return convert.FromWireFiles(res.Files), nil
}

// FindPeers returns the online endpoints holding hash.
func (c *Client) FindPeers(ctx context.Context, hash string) ([]model.PeerEndpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, err := c.auth()
	if err != nil {
		return nil, err
	}
	var res wire.FindPeersResponse
	if err := c.roundTrip(ctx, wire.CmdFindPeers, &wire.FindPeersRequest{Auth: a, Hash: hash}, &res); err != nil {
		return nil, err
	}
	if err := convert.ErrorFromStatus(res.Status); err != nil {
		return nil, err
	}
	return convert.FromWirePeers(res.Peers), nil
}

// Publish announces f as held by the logged-in user.
func (c *Client) Publish(ctx context.Context, f model.FileSummary) error {
	return c.status(ctx, wire.CmdPublish, func(a wire.Auth) wire.Message {
		return &wire.PublishRequest{Auth: a, Filename: f.Filename, Hash: f.Hash, FileSize: f.Size, ChunkSize: f.ChunkSize}
	})
}

// Unpublish withdraws the caller's announcement of hash.
func (c *Client) Unpublish(ctx context.Context, hash string) error {
	return c.status(ctx, wire.CmdUnpublish, func(a wire.Auth) wire.Message {
		return &wire.UnpublishRequest{Auth: a, Hash: hash}
	})
}

// ReportDownload tells the directory how a download of hash ended.
func (c *Client) ReportDownload(ctx context.Context, hash string, success bool) error {
	return c.status(ctx, wire.CmdDownloadStatus, func(a wire.Auth) wire.Message {
		return &wire.DownloadStatusRequest{Auth: a, Hash: hash, Success: success}
	})
}

func (c *Client) status(ctx context.Context, cmd wire.Command, build func(wire.Auth) wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, err := c.auth()
	if err != nil {
		return err
	}
	var res wire.StatusResponse
	if err := c.roundTrip(ctx, cmd, build(a), &res); err != nil {
		return err
	}
	return convert.ErrorFromStatus(res.Status)
}
