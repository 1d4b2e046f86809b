package directory

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/p2p-share/internal/limiter"
	"github.com/and161185/p2p-share/internal/repository/flatfile"
	"github.com/and161185/p2p-share/internal/service"
	"github.com/and161185/p2p-share/internal/store"
	"github.com/and161185/p2p-share/internal/wire"
)

const hashH = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

type testServer struct {
	addr  string
	store *store.Store
	files *service.FileServiceImpl
	stop  context.CancelFunc
	done  chan error
}

func startServer(t *testing.T, idle time.Duration) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	dir := t.TempDir()

	signer := service.NewTokenSigner([]byte("test-key"), time.Hour)
	st, err := store.New(context.Background(),
		flatfile.NewUsers(filepath.Join(dir, "users.txt"), log),
		flatfile.NewFiles(filepath.Join(dir, "shared_files.txt"), log),
		log, store.WithTokenFunc(signer.Issue))
	require.NoError(t, err)

	auth := service.NewAuthService(st, signer, limiter.NewMemory(time.Minute, 3, time.Minute), log)
	files := service.NewFileService(st, log)
	srv := New(auth, files, st, log, idle)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{addr: ln.Addr().String(), store: st, files: files, stop: cancel, done: make(chan error, 1)}
	go func() { ts.done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(10 * time.Second))
	return c
}

var nextID uint32

// call sends req and reads a response of resp's shape, checking the echoed header.
func call(t *testing.T, c net.Conn, cmd wire.Command, req, resp wire.Message) {
	t.Helper()
	nextID++
	*req.Hdr() = wire.Header{Command: cmd, RequestID: nextID}
	require.NoError(t, wire.Write(c, req))
	require.NoError(t, wire.Read(c, cmd, resp))
	require.Equal(t, nextID, resp.Hdr().RequestID)
}

func requireClosed(t *testing.T, c net.Conn) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	var b [1]byte
	_, err := c.Read(b[:])
	require.True(t, errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed), "want closed, got %v", err)
}

func register(t *testing.T, c net.Conn, email, password string) wire.Status {
	t.Helper()
	var res wire.StatusResponse
	call(t, c, wire.CmdRegister, &wire.RegisterRequest{Email: email, Username: "alice", Password: password}, &res)
	return res.Status
}

func login(t *testing.T, c net.Conn, email, password string, port int32) wire.LoginResponse {
	t.Helper()
	var res wire.LoginResponse
	call(t, c, wire.CmdLogin, &wire.LoginRequest{Email: email, Password: password, Port: port}, &res)
	return res
}

func TestAliceScenario(t *testing.T) {
	ts := startServer(t, 0)
	c := dial(t, ts.addr)

	require.Equal(t, wire.StatusSuccess, register(t, c, "alice@example.com", "pw1"))
	require.Equal(t, wire.StatusUserExists, register(t, c, "alice@example.com", "other"))

	lr := login(t, c, "alice@example.com", "pw1", 9000)
	require.Equal(t, wire.StatusSuccess, lr.Status)
	require.Equal(t, "alice", lr.Username)
	require.NotEmpty(t, lr.Token)
	auth := wire.Auth{Email: "alice@example.com", Token: lr.Token}

	var st wire.StatusResponse
	call(t, c, wire.CmdPublish, &wire.PublishRequest{
		Auth: auth, Filename: "notes.txt", Hash: hashH, FileSize: 1048577, ChunkSize: 524288,
	}, &st)
	require.Equal(t, wire.StatusSuccess, st.Status)

	var fl wire.FileListResponse
	call(t, c, wire.CmdSearch, &wire.SearchRequest{Auth: auth, Keyword: "notes"}, &fl)
	require.Equal(t, wire.StatusSuccess, fl.Status)
	require.Len(t, fl.Files, 1)
	require.Equal(t, wire.FileInfo{Filename: "notes.txt", Hash: hashH, Size: 1048577, ChunkSize: 524288}, fl.Files[0])

	var fp wire.FindPeersResponse
	call(t, c, wire.CmdFindPeers, &wire.FindPeersRequest{Auth: auth, Hash: hashH}, &fp)
	require.Equal(t, wire.StatusSuccess, fp.Status)
	require.Equal(t, []wire.PeerInfo{{IP: "127.0.0.1", Port: 9000}}, fp.Peers)

	call(t, c, wire.CmdDownloadStatus, &wire.DownloadStatusRequest{Auth: auth, Hash: hashH, Success: true}, &st)
	require.Equal(t, wire.StatusSuccess, st.Status)
	require.Equal(t, 1, ts.files.Stats(hashH).Succeeded)

	call(t, c, wire.CmdUnpublish, &wire.UnpublishRequest{Auth: auth, Hash: hashH}, &st)
	require.Equal(t, wire.StatusSuccess, st.Status)

	call(t, c, wire.CmdFindPeers, &wire.FindPeersRequest{Auth: auth, Hash: hashH}, &fp)
	require.Equal(t, wire.StatusNotFound, fp.Status)
	require.Empty(t, fp.Peers)

	call(t, c, wire.CmdLogout, &wire.LogoutRequest{Auth: auth}, &st)
	require.Equal(t, wire.StatusSuccess, st.Status)
	requireClosed(t, c)
	require.False(t, ts.store.IsConnected("alice@example.com"))
}

func TestInvalidTokenKeepsConnection(t *testing.T) {
	ts := startServer(t, 0)
	c := dial(t, ts.addr)

	var fl wire.FileListResponse
	call(t, c, wire.CmdBrowse, &wire.BrowseRequest{Auth: wire.Auth{Email: "bob@example.com", Token: "forged"}}, &fl)
	require.Equal(t, wire.StatusInvalidToken, fl.Status)

	require.Equal(t, wire.StatusSuccess, register(t, c, "bob@example.com", "pw"))
}

func TestTokenBoundToEmail(t *testing.T) {
	ts := startServer(t, 0)
	a, b := dial(t, ts.addr), dial(t, ts.addr)

	require.Equal(t, wire.StatusSuccess, register(t, a, "alice@example.com", "pw1"))
	require.Equal(t, wire.StatusSuccess, register(t, a, "bob@example.com", "pw2"))
	la := login(t, a, "alice@example.com", "pw1", 9000)
	require.Equal(t, wire.StatusSuccess, login(t, b, "bob@example.com", "pw2", 9001).Status)

	var st wire.StatusResponse
	call(t, b, wire.CmdPublish, &wire.PublishRequest{
		Auth: wire.Auth{Email: "bob@example.com", Token: la.Token}, Filename: "x", Hash: hashH, ChunkSize: 1,
	}, &st)
	require.Equal(t, wire.StatusInvalidToken, st.Status)
}

func TestUnpublishNotOwner(t *testing.T) {
	ts := startServer(t, 0)
	a, b := dial(t, ts.addr), dial(t, ts.addr)

	register(t, a, "alice@example.com", "pw1")
	register(t, a, "bob@example.com", "pw2")
	la := login(t, a, "alice@example.com", "pw1", 9000)
	lb := login(t, b, "bob@example.com", "pw2", 9001)

	var st wire.StatusResponse
	call(t, a, wire.CmdPublish, &wire.PublishRequest{
		Auth: wire.Auth{Email: "alice@example.com", Token: la.Token}, Filename: "a.txt", Hash: hashH, FileSize: 3, ChunkSize: 1,
	}, &st)
	require.Equal(t, wire.StatusSuccess, st.Status)

	call(t, b, wire.CmdUnpublish, &wire.UnpublishRequest{Auth: wire.Auth{Email: "bob@example.com", Token: lb.Token}, Hash: hashH}, &st)
	require.Equal(t, wire.StatusFileNotOwned, st.Status)
	require.True(t, ts.store.IsOwner(hashH, "alice@example.com"))
}

func TestLoginErrors(t *testing.T) {
	ts := startServer(t, 0)
	c := dial(t, ts.addr)
	register(t, c, "alice@example.com", "pw1")

	require.Equal(t, wire.StatusInvalidCredentials, login(t, c, "alice@example.com", "nope", 9000).Status)
	require.Equal(t, wire.StatusInvalidInput, login(t, c, "alice@example.com", "pw1", 70000).Status)
	require.Equal(t, wire.StatusSuccess, login(t, c, "alice@example.com", "pw1", 9000).Status)

	// Same connection, and a second connection while the first endpoint is live.
	require.Equal(t, wire.StatusAlreadyLoggedIn, login(t, c, "alice@example.com", "pw1", 9000).Status)
	other := dial(t, ts.addr)
	require.Equal(t, wire.StatusAlreadyLoggedIn, login(t, other, "alice@example.com", "pw1", 9001).Status)
}

func TestLoginRateLimited(t *testing.T) {
	ts := startServer(t, 0)
	c := dial(t, ts.addr)
	register(t, c, "alice@example.com", "pw1")

	for i := 0; i < 2; i++ {
		require.Equal(t, wire.StatusInvalidCredentials, login(t, c, "alice@example.com", "bad", 9000).Status)
	}
	require.Equal(t, wire.StatusUnauthorized, login(t, c, "alice@example.com", "bad", 9000).Status)
	require.Equal(t, wire.StatusUnauthorized, login(t, c, "alice@example.com", "pw1", 9000).Status)
}

func TestLoginPortZeroUsesSourcePort(t *testing.T) {
	ts := startServer(t, 0)
	c := dial(t, ts.addr)
	register(t, c, "alice@example.com", "pw1")
	require.Equal(t, wire.StatusSuccess, login(t, c, "alice@example.com", "pw1", 0).Status)

	local := c.LocalAddr().(*net.TCPAddr)
	peers := ts.store.ConnectedPeers()
	require.Len(t, peers, 1)
	require.Equal(t, local.Port, peers[0].Port)
}

func TestUnknownCommandCloses(t *testing.T) {
	ts := startServer(t, 0)
	c := dial(t, ts.addr)

	_, err := c.Write([]byte{0, 0, 0, 77, 0, 0, 0, 1})
	require.NoError(t, err)
	requireClosed(t, c)
}

func TestUnterminatedStringIsInvalidInput(t *testing.T) {
	ts := startServer(t, 0)
	c := dial(t, ts.addr)

	b, err := wire.Marshal(&wire.RegisterRequest{Header: wire.Header{Command: wire.CmdRegister, RequestID: 5}})
	require.NoError(t, err)
	for i := wire.HeaderSize; i < wire.HeaderSize+wire.EmailCap; i++ {
		b[i] = 'a'
	}
	_, err = c.Write(b)
	require.NoError(t, err)

	var res wire.StatusResponse
	require.NoError(t, wire.Read(c, wire.CmdRegister, &res))
	require.Equal(t, uint32(5), res.RequestID)
	require.Equal(t, wire.StatusInvalidInput, res.Status)

	require.Equal(t, wire.StatusSuccess, register(t, c, "carol@example.com", "pw"))
}

func TestDisconnectDropsPresence(t *testing.T) {
	ts := startServer(t, 0)
	c := dial(t, ts.addr)
	register(t, c, "alice@example.com", "pw1")
	lr := login(t, c, "alice@example.com", "pw1", 9000)
	require.True(t, ts.store.IsConnected("alice@example.com"))

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return !ts.store.IsConnected("alice@example.com") },
		5*time.Second, 10*time.Millisecond)

	// The session outlives the connection; a new login is allowed again.
	require.True(t, ts.store.VerifySession(lr.Token, "alice@example.com"))
	c2 := dial(t, ts.addr)
	require.Equal(t, wire.StatusSuccess, login(t, c2, "alice@example.com", "pw1", 9000).Status)
}

func TestStaleConnectionKeepsNewerPresence(t *testing.T) {
	ts := startServer(t, 0)
	const email = "alice@example.com"

	c1 := dial(t, ts.addr)
	register(t, c1, email, "pw1")
	first := login(t, c1, email, "pw1", 9000)
	require.Equal(t, wire.StatusSuccess, first.Status)

	// Logging out through another connection leaves c1 open and unaware.
	c2 := dial(t, ts.addr)
	var st wire.StatusResponse
	call(t, c2, wire.CmdLogout, &wire.LogoutRequest{Auth: wire.Auth{Email: email, Token: first.Token}}, &st)
	require.Equal(t, wire.StatusSuccess, st.Status)
	requireClosed(t, c2)

	c3 := dial(t, ts.addr)
	require.Equal(t, wire.StatusSuccess, login(t, c3, email, "pw1", 9001).Status)

	require.NoError(t, c1.Close())
	// Give c1's worker time to run its disconnect cleanup.
	time.Sleep(200 * time.Millisecond)
	require.True(t, ts.store.IsConnected(email))
	peers := ts.store.ConnectedPeers()
	require.Len(t, peers, 1)
	require.Equal(t, 9001, peers[0].Port)
}

func TestIdleTimeoutCloses(t *testing.T) {
	ts := startServer(t, 150*time.Millisecond)
	c := dial(t, ts.addr)
	register(t, c, "alice@example.com", "pw1")
	require.Equal(t, wire.StatusSuccess, login(t, c, "alice@example.com", "pw1", 9000).Status)

	requireClosed(t, c)
	require.Eventually(t, func() bool { return !ts.store.IsConnected("alice@example.com") },
		5*time.Second, 10*time.Millisecond)
}

func TestShutdownClosesConnections(t *testing.T) {
	ts := startServer(t, 0)
	c := dial(t, ts.addr)
	require.Equal(t, wire.StatusSuccess, register(t, c, "alice@example.com", "pw1"))

	ts.stop()
	requireClosed(t, c)
}
