// Package app ties a peer's directory session and its transfer engine together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/p2p-share/internal/client/directory"
	"github.com/and161185/p2p-share/internal/config"
	"github.com/and161185/p2p-share/internal/localfs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/netx"
	"github.com/and161185/p2p-share/internal/p2p"
)

// App is one end user's peer: a P2P listener plus a directory connection.
type App struct {
	cfg *config.Peer
	log *zap.Logger

	catalog    *p2p.DirCatalog
	listener   *p2p.Listener
	downloader *p2p.Downloader
	ln         net.Listener

	group  *errgroup.Group
	cancel context.CancelFunc

	mu  sync.Mutex
	dir *directory.Client
}

// New validates cfg and builds an App. Call Start before using it.
func New(cfg *config.Peer, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &App{cfg: cfg, log: log}, nil
}

// Start prepares the local directories, starts the P2P listener and
// connects to the directory server.
func (a *App) Start(ctx context.Context) error {
	shared, err := localfs.EnsureDir(a.cfg.SharedDir)
	if err != nil {
		return err
	}
	downloads, err := localfs.EnsureDir(a.cfg.DownloadDir)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("p2p listen %s: %w", a.cfg.Listen, err)
	}
	a.ln = ln
	a.catalog = p2p.NewDirCatalog(shared, a.log)
	a.listener = p2p.NewListener(a.catalog, a.cfg.ChunkSize, a.log,
		p2p.WithUploadRate(a.cfg.UploadRate),
		p2p.WithMaxUploads(a.cfg.MaxUploads),
	)
	a.downloader = p2p.NewDownloader(a, downloads, a.log,
		p2p.WithDialTimeout(a.cfg.DialTimeout),
		p2p.WithIOTimeout(a.cfg.IOTimeout),
		p2p.WithConnectAttempts(a.cfg.ConnectAttempts, 0),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	a.group, a.cancel = g, cancel
	g.Go(func() error { return a.listener.Serve(gctx, ln) })

	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return err
	}
	return nil
}

func (a *App) connect(ctx context.Context) error {
	c, err := directory.Dial(ctx, a.cfg.Server, a.cfg.IOTimeout, a.log)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.dir = c
	a.mu.Unlock()
	return nil
}

func (a *App) client() *directory.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dir
}

// Close stops the listener and drops the directory connection.
func (a *App) Close() error {
	var errs []error
	if c := a.client(); c != nil {
		errs = append(errs, ignoreClosed(c.Close()))
	}
	if a.cancel != nil {
		a.cancel()
		errs = append(errs, a.group.Wait())
	}
	return errors.Join(errs...)
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// ListenPort is the local P2P listening port.
func (a *App) ListenPort() int {
	if tcp, ok := a.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// AdvertisedPort is the port sent at login.
func (a *App) AdvertisedPort() int {
	if a.cfg.AdvertisePort != 0 {
		return a.cfg.AdvertisePort
	}
	return a.ListenPort()
}

// LocalAddress is this host's LAN address, for display.
func (a *App) LocalAddress() string { return netx.DetectLocalAddress() }

// Session returns the logged-in email and display name.
func (a *App) Session() (email, username string, ok bool) {
	return a.client().Session()
}

// Register creates an account.
func (a *App) Register(ctx context.Context, email, username, password string) error {
	return a.client().Register(ctx, email, username, password)
}

// Login opens a session and announces this peer's P2P endpoint.
func (a *App) Login(ctx context.Context, email, password string) (string, error) {
	name, err := a.client().Login(ctx, email, password, a.AdvertisedPort())
	if err != nil {
		return "", err
	}
	a.log.Info("logged in", zap.String("email", email), zap.Int("p2p_port", a.AdvertisedPort()))
	return name, nil
}

// Logout ends the session and reconnects so the user can log in again.
func (a *App) Logout(ctx context.Context) error {
	err := a.client().Logout(ctx)
	if cerr := a.connect(ctx); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// Search lists published files whose name contains keyword.
func (a *App) Search(ctx context.Context, keyword string) ([]model.FileSummary, error) {
	return a.client().Search(ctx, keyword)
}

// Browse lists every published file.
func (a *App) Browse(ctx context.Context) ([]model.FileSummary, error) {
	return a.client().Browse(ctx)
}

// FindPeers lists the online holders of hash.
func (a *App) FindPeers(ctx context.Context, hash string) ([]model.PeerEndpoint, error) {
	return a.client().FindPeers(ctx, hash)
}

// ReportDownload forwards a download outcome to the directory.
func (a *App) ReportDownload(ctx context.Context, hash string, success bool) error {
	return a.client().ReportDownload(ctx, hash, success)
}

// SharedFiles lists and hashes the local shared directory.
func (a *App) SharedFiles(ctx context.Context) ([]p2p.SharedFile, error) {
	return a.catalog.List(ctx)
}

// Publish hashes the shared file name and announces it.
func (a *App) Publish(ctx context.Context, name string) (model.FileSummary, error) {
	path, err := localfs.SafeJoin(a.catalog.Dir(), name)
	if err != nil {
		return model.FileSummary{}, err
	}
	sf, err := a.catalog.Stat(path)
	if err != nil {
		return model.FileSummary{}, err
	}
	f := model.FileSummary{Filename: name, Hash: sf.Hash, Size: sf.Size, ChunkSize: a.listener.ChunkSize()}
	if err := a.client().Publish(ctx, f); err != nil {
		return model.FileSummary{}, err
	}
	return f, nil
}

// PublishAll announces every file of the shared directory. Files that fail
// are reported together in the returned error.
func (a *App) PublishAll(ctx context.Context) ([]model.FileSummary, error) {
	files, err := a.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	var (
		out  []model.FileSummary
		errs []error
	)
	for _, sf := range files {
		name := filepath.Base(sf.Path)
		f, err := a.Publish(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out = append(out, f)
	}
	return out, errors.Join(errs...)
}

// Unpublish withdraws the announcement of the shared file name.
func (a *App) Unpublish(ctx context.Context, name string) error {
	path, err := localfs.SafeJoin(a.catalog.Dir(), name)
	if err != nil {
		return err
	}
	sf, err := a.catalog.Stat(path)
	if err != nil {
		return err
	}
	return a.client().Unpublish(ctx, sf.Hash)
}

// Download pulls f from its peers into the download directory.
func (a *App) Download(ctx context.Context, f model.FileSummary) (p2p.Result, error) {
	return a.downloader.Download(ctx, f)
}
