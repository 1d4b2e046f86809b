// Package cli is the interactive shell of the peer binary.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/p2p"
)

// Peer is the command surface the shell drives. *app.App implements it.
type Peer interface {
	Session() (email, username string, ok bool)
	Register(ctx context.Context, email, username, password string) error
	Login(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context) error
	Search(ctx context.Context, keyword string) ([]model.FileSummary, error)
	Browse(ctx context.Context) ([]model.FileSummary, error)
	SharedFiles(ctx context.Context) ([]p2p.SharedFile, error)
	Publish(ctx context.Context, name string) (model.FileSummary, error)
	PublishAll(ctx context.Context) ([]model.FileSummary, error)
	Unpublish(ctx context.Context, name string) error
	Download(ctx context.Context, f model.FileSummary) (p2p.Result, error)
}

// Shell is a read-eval-print loop over a Peer.
type Shell struct {
	peer Peer
	in   *bufio.Reader
	out  io.Writer
	// last is the most recent search or browse listing; download picks from it.
	last []model.FileSummary
}

// New returns a shell reading commands from in and writing to out.
func New(p Peer, in io.Reader, out io.Writer) *Shell {
	return &Shell{peer: p, in: bufio.NewReader(in), out: out}
}

const helpLoggedOut = "commands: register, login, help, exit"
const helpLoggedIn = "commands: browse, search <keyword>, shared, publish <file>|all, unpublish <file>, download <n|hash>, logout, help, exit"

// Run loops until EOF, "exit", or ctx is cancelled.
func (s *Shell) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		line, err := prompt(s.in, s.out, s.status())
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			s.println("bye")
			return nil
		}
		if err := s.exec(ctx, fields[0], fields[1:]); err != nil {
			s.println("error:", describe(err))
		}
	}
	return ctx.Err()
}

func (s *Shell) status() string {
	if email, name, ok := s.peer.Session(); ok {
		return fmt.Sprintf("p2p [%s <%s>]", name, email)
	}
	return "p2p [not logged in]"
}

func (s *Shell) println(a ...any) { fmt.Fprintln(s.out, a...) }

func (s *Shell) exec(ctx context.Context, cmd string, args []string) error {
	_, _, loggedIn := s.peer.Session()
	switch cmd {
	case "help", "?":
		if loggedIn {
			s.println(helpLoggedIn)
		} else {
			s.println(helpLoggedOut)
		}
		return nil
	case "register":
		return s.register(ctx)
	case "login":
		return s.login(ctx)
	}

	if !loggedIn {
		return fmt.Errorf("unknown command %q (not logged in; try help)", cmd)
	}
	switch cmd {
	case "browse", "list", "ls":
		files, err := s.peer.Browse(ctx)
		return s.listing(files, err)
	case "search":
		if len(args) == 0 {
			return errors.New("usage: search <keyword>")
		}
		files, err := s.peer.Search(ctx, strings.Join(args, " "))
		return s.listing(files, err)
	case "shared":
		return s.shared(ctx)
	case "publish":
		return s.publish(ctx, args)
	case "unpublish":
		if len(args) != 1 {
			return errors.New("usage: unpublish <file>")
		}
		if err := s.peer.Unpublish(ctx, args[0]); err != nil {
			return err
		}
		s.println("unpublished", args[0])
		return nil
	case "download", "get":
		return s.download(ctx, args)
	case "logout":
		if err := s.peer.Logout(ctx); err != nil {
			return err
		}
		s.last = nil
		s.println("logged out")
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (s *Shell) register(ctx context.Context) error {
	email, err := prompt(s.in, s.out, "Email")
	if err != nil {
		return err
	}
	name, err := prompt(s.in, s.out, "Username")
	if err != nil {
		return err
	}
	pw, err := promptPassword(s.in, s.out)
	if err != nil {
		return err
	}
	if err := s.peer.Register(ctx, email, name, pw); err != nil {
		return err
	}
	s.println("registered", email)
	return nil
}

func (s *Shell) login(ctx context.Context) error {
	if _, _, ok := s.peer.Session(); ok {
		return errs.ErrAlreadyLoggedIn
	}
	email, err := prompt(s.in, s.out, "Email")
	if err != nil {
		return err
	}
	pw, err := promptPassword(s.in, s.out)
	if err != nil {
		return err
	}
	name, err := s.peer.Login(ctx, email, pw)
	if err != nil {
		return err
	}
	s.println("welcome,", name)
	return nil
}

func (s *Shell) listing(files []model.FileSummary, err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		s.last = nil
		s.println("no files")
		return nil
	}
	if err != nil {
		return err
	}
	s.last = files
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tSIZE\tCHUNKS\tHASH")
	for i, f := range files {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", i+1, f.Filename, f.Size, f.TotalChunks(), shortHash(f.Hash))
	}
	return tw.Flush()
}

func (s *Shell) shared(ctx context.Context) error {
	files, err := s.peer.SharedFiles(ctx)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		s.println("shared directory is empty")
		return nil
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tHASH")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Path, f.Size, shortHash(f.Hash))
	}
	return tw.Flush()
}

func (s *Shell) publish(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: publish <file>|all")
	}
	if args[0] == "all" {
		files, err := s.peer.PublishAll(ctx)
		for _, f := range files {
			s.println("published", f.Filename)
		}
		return err
	}
	f, err := s.peer.Publish(ctx, args[0])
	if err != nil {
		return err
	}
	s.println("published", f.Filename, shortHash(f.Hash))
	return nil
}

func (s *Shell) download(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: download <n|hash> (after browse or search)")
	}
	f, err := s.pick(args[0])
	if err != nil {
		return err
	}
	s.println("downloading", f.Filename, "in", f.TotalChunks(), "chunks")
	res, err := s.peer.Download(ctx, f)
	if err != nil {
		return err
	}
	s.println("saved", res.Path, "from", res.Peers, "peer(s)")
	return nil
}

// pick resolves a listing number or a hash prefix against the last listing.
func (s *Shell) pick(arg string) (model.FileSummary, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(s.last) {
			return model.FileSummary{}, fmt.Errorf("no entry %d in the last listing", n)
		}
		return s.last[n-1], nil
	}
	var match []model.FileSummary
	for _, f := range s.last {
		if strings.HasPrefix(f.Hash, arg) {
			match = append(match, f)
		}
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
		return model.FileSummary{}, fmt.Errorf("no file with hash %q in the last listing", arg)
	default:
		return model.FileSummary{}, fmt.Errorf("hash prefix %q is ambiguous", arg)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// describe turns protocol sentinels into user-facing text.
func describe(err error) string {
	switch {
	case errors.Is(err, errs.ErrAlreadyExists):
		return "email already registered"
	case errors.Is(err, errs.ErrUnauthorized):
		return "wrong email or password"
	case errors.Is(err, errs.ErrRateLimited):
		return "too many failed logins, try again later"
	case errors.Is(err, errs.ErrInvalidToken):
		return "session expired, log in again"
	case errors.Is(err, errs.ErrAlreadyLoggedIn):
		return "already logged in"
	case errors.Is(err, errs.ErrNotOwner):
		return "you have not published this file"
	case errors.Is(err, errs.ErrNoPeers):
		return "no online peer has this file"
	}
	return err.Error()
}
