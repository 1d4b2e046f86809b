package directory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/p2p-share/internal/convert"
	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/wire"
)

func (s *Server) dispatch(ctx context.Context, req wire.Message) (wire.Message, error) {
	st, ok := connFromCtx(ctx)
	if !ok {
		return nil, errors.New("no connection state")
	}
	h := *req.Hdr()

	switch r := req.(type) {
	case *wire.RegisterRequest:
		return s.register(ctx, h, r), nil
	case *wire.LoginRequest:
		return s.login(ctx, st, h, r), nil
	}

	auth, ok := authOf(req)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected %T", errs.ErrProtocol, req)
	}
	if err := s.auth.VerifySession(auth.Email, auth.Token); err != nil {
		return errorResponse(h, convert.StatusFromError(err)), nil
	}

	switch r := req.(type) {
	case *wire.SearchRequest:
		files, err := s.files.Search(ctx, r.Keyword)
		return fileList(h, files, err), nil
	case *wire.BrowseRequest:
		files, err := s.files.Browse(ctx)
		return fileList(h, files, err), nil
	case *wire.FindPeersRequest:
		peers, err := s.files.FindPeers(ctx, r.Hash)
		return &wire.FindPeersResponse{
			Header: h,
			Status: convert.StatusFromError(err),
			Peers:  convert.ToWirePeers(peers),
		}, nil
	case *wire.PublishRequest:
		err := s.files.Publish(ctx, r.Email, model.FileSummary{
			Filename:  r.Filename,
			Hash:      r.Hash,
			Size:      r.FileSize,
			ChunkSize: r.ChunkSize,
		})
		return s.status(h, err), nil
	case *wire.UnpublishRequest:
		return s.status(h, s.files.Unpublish(ctx, r.Email, r.Hash)), nil
	case *wire.DownloadStatusRequest:
		return s.status(h, s.files.ReportDownload(ctx, r.Email, r.Hash, r.Success)), nil
	case *wire.LogoutRequest:
		return s.logout(ctx, st, h, auth), nil
	}
	return nil, fmt.Errorf("%w: unhandled %s", errs.ErrProtocol, h.Command)
}

func (s *Server) register(ctx context.Context, h wire.Header, r *wire.RegisterRequest) wire.Message {
	return s.status(h, s.auth.Register(ctx, r.Email, r.Username, r.Password))
}

func (s *Server) login(ctx context.Context, st *connState, h wire.Header, r *wire.LoginRequest) wire.Message {
	if st.email != "" {
		return errorResponse(h, wire.StatusAlreadyLoggedIn)
	}
	if r.Port < 0 || r.Port > 65535 {
		return errorResponse(h, wire.StatusInvalidInput)
	}
	port := int(r.Port)
	if port == 0 {
		port = st.port
	}

	u, token, err := s.auth.Login(ctx, r.Email, r.Password, model.PeerEndpoint{IP: st.ip, Port: port})
	if err != nil {
		return errorResponse(h, convert.StatusFromError(err))
	}
	st.email, st.token = r.Email, token
	s.log.Info("login",
		zap.String("email", r.Email), zap.String("ip", st.ip), zap.Int("p2p_port", port))
	return &wire.LoginResponse{Header: h, Status: wire.StatusSuccess, Username: u.DisplayName, Token: token}
}

// logout answers the request; the caller closes the connection afterwards.
func (s *Server) logout(ctx context.Context, st *connState, h wire.Header, a wire.Auth) wire.Message {
	err := s.auth.Logout(ctx, a.Email, a.Token)
	if err == nil && st.email == a.Email && st.token == a.Token {
		st.email, st.token = "", ""
	}
	return s.status(h, err)
}

func (s *Server) status(h wire.Header, err error) wire.Message {
	st := convert.StatusFromError(err)
	if st == wire.StatusFail {
		s.log.Error("request failed", zap.Stringer("cmd", h.Command), zap.Error(err))
	}
	return &wire.StatusResponse{Header: h, Status: st}
}

func fileList(h wire.Header, files []model.FileSummary, err error) wire.Message {
	return &wire.FileListResponse{
		Header: h,
		Status: convert.StatusFromError(err),
		Files:  convert.ToWireFiles(files),
	}
}

func authOf(m wire.Message) (wire.Auth, bool) {
	switch r := m.(type) {
	case *wire.SearchRequest:
		return r.Auth, true
	case *wire.BrowseRequest:
		return r.Auth, true
	case *wire.FindPeersRequest:
		return r.Auth, true
	case *wire.PublishRequest:
		return r.Auth, true
	case *wire.UnpublishRequest:
		return r.Auth, true
	case *wire.LogoutRequest:
		return r.Auth, true
	case *wire.DownloadStatusRequest:
		return r.Auth, true
	}
	return wire.Auth{}, false
}
