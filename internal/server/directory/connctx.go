package directory

import (
	"context"
	"net"
)

// connState is what one connection worker knows about its client.
type connState struct {
	remote string // host:port as seen by the server
	ip     string
	port   int

	// email and token are set by a successful Login on this connection and
	// cleared when that session is logged out.
	email string
	token string
}

type ctxKey string

const connKey ctxKey = "dir.conn"

// withConn stores the connection state in context.
func withConn(ctx context.Context, st *connState) context.Context {
	return context.WithValue(ctx, connKey, st)
}

// connFromCtx fetches the connection state from context.
func connFromCtx(ctx context.Context) (*connState, bool) {
	st, ok := ctx.Value(connKey).(*connState)
	return st, ok && st != nil
}

func newConnState(addr net.Addr) *connState {
	st := &connState{remote: addr.String()}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		st.ip = tcp.IP.String()
		st.port = tcp.Port
		return st
	}
	host, _, err := net.SplitHostPort(st.remote)
	if err == nil {
		st.ip = host
	}
	return st
}
