package app

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/p2p-share/internal/config"
	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/limiter"
	"github.com/and161185/p2p-share/internal/repository/flatfile"
	dirserver "github.com/and161185/p2p-share/internal/server/directory"
	"github.com/and161185/p2p-share/internal/service"
	"github.com/and161185/p2p-share/internal/store"
)

func startDirectory(t *testing.T) string {
	t.Helper()
	log := zaptest.NewLogger(t)
	dir := t.TempDir()
	st, err := store.New(context.Background(),
		flatfile.NewUsers(filepath.Join(dir, "users.txt"), log),
		flatfile.NewFiles(filepath.Join(dir, "files.txt"), log), log)
	require.NoError(t, err)
	srv := dirserver.New(
		service.NewAuthService(st, nil, limiter.NewMemory(time.Minute, 5, time.Minute), log),
		service.NewFileService(st, log), st, log, 0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func startPeer(t *testing.T, server string, chunk int32) (*App, *config.Peer) {
	t.Helper()
	base := t.TempDir()
	cfg := config.DefaultPeer()
	cfg.Server = server
	cfg.Listen = "127.0.0.1:0"
	cfg.SharedDir = filepath.Join(base, "share")
	cfg.DownloadDir = filepath.Join(base, "downloads")
	cfg.ChunkSize = chunk
	cfg.DialTimeout = time.Second
	cfg.IOTimeout = 5 * time.Second

	a, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a, cfg
}

func TestShareAndDownloadBetweenPeers(t *testing.T) {
	server := startDirectory(t)
	ctx := context.Background()

	alice, aliceCfg := startPeer(t, server, 1000)
	bob, bobCfg := startPeer(t, server, 1000)

	content := make([]byte, 3500)
	for i := range content {
		content[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(filepath.Join(aliceCfg.SharedDir, "notes.txt"), content, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(aliceCfg.SharedDir, "todo.md"), []byte("- ship it"), 0o600))

	require.NoError(t, alice.Register(ctx, "alice@example.com", "Alice", "pw1"))
	require.NoError(t, alice.Register(ctx, "bob@example.com", "Bob", "pw2"))
	_, err := alice.Login(ctx, "alice@example.com", "pw1")
	require.NoError(t, err)
	_, err = bob.Login(ctx, "bob@example.com", "pw2")
	require.NoError(t, err)

	published, err := alice.PublishAll(ctx)
	require.NoError(t, err)
	require.Len(t, published, 2)

	found, err := bob.Search(ctx, "notes")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, 4, found[0].TotalChunks())

	peers, err := bob.FindPeers(ctx, found[0].Hash)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, alice.ListenPort(), peers[0].Port)

	res, err := bob.Download(ctx, found[0])
	require.NoError(t, err)
	require.Equal(t, filepath.Join(bobCfg.DownloadDir, "notes.txt"), res.Path)
	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, content, got)

	require.NoError(t, alice.Unpublish(ctx, "notes.txt"))
	_, err = bob.FindPeers(ctx, found[0].Hash)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLogoutAllowsLoginAgain(t *testing.T) {
	server := startDirectory(t)
	ctx := context.Background()
	a, _ := startPeer(t, server, 512)

	require.NoError(t, a.Register(ctx, "carol@example.com", "Carol", "pw"))
	_, err := a.Login(ctx, "carol@example.com", "pw")
	require.NoError(t, err)
	require.NoError(t, a.Logout(ctx))

	_, _, ok := a.Session()
	require.False(t, ok)
	name, err := a.Login(ctx, "carol@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "Carol", name)
}

func TestPublishRejectsUnsafeName(t *testing.T) {
	server := startDirectory(t)
	a, _ := startPeer(t, server, 512)
	_, err := a.Publish(context.Background(), "../outside.txt")
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := config.DefaultPeer()
	cfg.ChunkSize = 0
	_, err := New(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}
