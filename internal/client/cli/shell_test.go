package cli

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/p2p"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	isTerminal = func(int) bool { return false }
	os.Exit(m.Run())
}

type fakePeer struct {
	email, name string
	loggedIn    bool
	files       []model.FileSummary
	published   []string
	unpublished []string
	downloaded  []model.FileSummary
	loginErr    error
	password    string
}

func (f *fakePeer) Session() (string, string, bool) { return f.email, f.name, f.loggedIn }

func (f *fakePeer) Register(_ context.Context, email, username, password string) error {
	if email == "taken@x" {
		return errs.ErrAlreadyExists
	}
	f.password = password
	return nil
}

func (f *fakePeer) Login(_ context.Context, email, password string) (string, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	f.email, f.name, f.loggedIn, f.password = email, "Alice", true, password
	return f.name, nil
}

func (f *fakePeer) Logout(context.Context) error {
	f.loggedIn = false
	return nil
}

func (f *fakePeer) Search(_ context.Context, kw string) ([]model.FileSummary, error) {
	var out []model.FileSummary
	for _, x := range f.files {
		if strings.Contains(x.Filename, kw) {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

func (f *fakePeer) Browse(context.Context) ([]model.FileSummary, error) { return f.files, nil }

func (f *fakePeer) SharedFiles(context.Context) ([]p2p.SharedFile, error) {
	return []p2p.SharedFile{{Path: "a.txt", Hash: strings.Repeat("a", 64), Size: 3}}, nil
}

func (f *fakePeer) Publish(_ context.Context, name string) (model.FileSummary, error) {
	f.published = append(f.published, name)
	return model.FileSummary{Filename: name, Hash: strings.Repeat("c", 64)}, nil
}

func (f *fakePeer) PublishAll(context.Context) ([]model.FileSummary, error) {
	f.published = append(f.published, "*")
	return []model.FileSummary{{Filename: "a.txt"}, {Filename: "b.txt"}}, nil
}

func (f *fakePeer) Unpublish(_ context.Context, name string) error {
	f.unpublished = append(f.unpublished, name)
	return nil
}

func (f *fakePeer) Download(_ context.Context, x model.FileSummary) (p2p.Result, error) {
	f.downloaded = append(f.downloaded, x)
	return p2p.Result{Path: "/dl/" + x.Filename, Chunks: x.TotalChunks(), Peers: 1}, nil
}

func run(t *testing.T, p Peer, script string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, New(p, strings.NewReader(script), &out).Run(context.Background()))
	return out.String()
}

func catalog() []model.FileSummary {
	return []model.FileSummary{
		{Filename: "notes.txt", Hash: "abc123" + strings.Repeat("0", 58), Size: 10, ChunkSize: 4},
		{Filename: "photo.png", Hash: "abd999" + strings.Repeat("0", 58), Size: 5, ChunkSize: 4},
	}
}

func TestLoginBrowseDownload(t *testing.T) {
	p := &fakePeer{files: catalog()}
	out := run(t, p, "login\nalice@x\nsecret\nbrowse\ndownload 2\nexit\n")

	require.Equal(t, "secret", p.password)
	require.Contains(t, out, "welcome, Alice")
	require.Contains(t, out, "notes.txt")
	require.Contains(t, out, "saved /dl/photo.png")
	require.Contains(t, out, "bye")
	require.Len(t, p.downloaded, 1)
	require.Equal(t, "photo.png", p.downloaded[0].Filename)
}

func TestDownloadByHashPrefix(t *testing.T) {
	p := &fakePeer{files: catalog(), loggedIn: true}
	out := run(t, p, "browse\ndownload abc1\ndownload ab\ndownload 9\n")

	require.Len(t, p.downloaded, 1)
	require.Equal(t, "notes.txt", p.downloaded[0].Filename)
	require.Contains(t, out, "ambiguous")
	require.Contains(t, out, "no entry 9")
}

func TestSearchNoResults(t *testing.T) {
	p := &fakePeer{files: catalog(), loggedIn: true}
	out := run(t, p, "search zzz\ndownload 1\n")
	require.Contains(t, out, "no files")
	require.Contains(t, out, "no entry 1")
}

func TestCommandsNeedLogin(t *testing.T) {
	p := &fakePeer{files: catalog()}
	out := run(t, p, "browse\nhelp\n")
	require.Contains(t, out, "not logged in")
	require.Contains(t, out, helpLoggedOut)
}

func TestPublishAndUnpublish(t *testing.T) {
	p := &fakePeer{loggedIn: true}
	out := run(t, p, "publish a.txt\npublish all\nunpublish a.txt\nshared\npublish\n")

	require.Equal(t, []string{"a.txt", "*"}, p.published)
	require.Equal(t, []string{"a.txt"}, p.unpublished)
	require.Contains(t, out, "published b.txt")
	require.Contains(t, out, "aaaaaaaaaaaa")
	require.Contains(t, out, "usage: publish")
}

func TestErrorsAreDescribed(t *testing.T) {
	p := &fakePeer{loginErr: errs.ErrRateLimited}
	out := run(t, p, "register\ntaken@x\nBob\npw\nlogin\na@x\npw\n")
	require.Contains(t, out, "email already registered")
	require.Contains(t, out, "too many failed logins")
}

func TestLogoutClearsListing(t *testing.T) {
	p := &fakePeer{files: catalog(), loggedIn: true}
	out := run(t, p, "browse\nlogout\nlogin\na@x\npw\ndownload 1\n")
	require.Contains(t, out, "logged out")
	require.Contains(t, out, "no entry 1")
	require.Empty(t, p.downloaded)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(&fakePeer{}, strings.NewReader("help\n"), &bytes.Buffer{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
