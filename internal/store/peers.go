package store

import (
	"sort"
	"sync"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
)

type peerTable struct {
	mu      sync.RWMutex
	byEmail map[string]model.ConnectedPeer
}

// AddConnectedPeer records the P2P endpoint of email for the session token.
// It fails with errs.ErrAlreadyLoggedIn when an endpoint is already recorded.
func (s *Store) AddConnectedPeer(email, ip string, port int, token string) error {
	t := &s.peers
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byEmail[email]; ok {
		return errs.ErrAlreadyLoggedIn
	}
	t.byEmail[email] = model.ConnectedPeer{
		OwnerEmail:  email,
		IP:          ip,
		Port:        port,
		ConnectedAt: s.now(),
		Token:       token,
	}
	return nil
}

// RemoveConnectedPeer forgets the endpoint of email if it was recorded for token.
// An entry recorded by a later login is left alone.
func (s *Store) RemoveConnectedPeer(email, token string) bool {
	s.peers.mu.Lock()
	defer s.peers.mu.Unlock()

	p, ok := s.peers.byEmail[email]
	if !ok || p.Token != token {
		return false
	}
	delete(s.peers.byEmail, email)
	return true
}

// IsConnected reports whether email has a recorded endpoint.
func (s *Store) IsConnected(email string) bool {
	s.peers.mu.RLock()
	defer s.peers.mu.RUnlock()

	_, ok := s.peers.byEmail[email]
	return ok
}

// ConnectedPeers returns a copy of the presence table ordered by email.
func (s *Store) ConnectedPeers() []model.ConnectedPeer {
	s.peers.mu.RLock()
	out := make([]model.ConnectedPeer, 0, len(s.peers.byEmail))
	for _, p := range s.peers.byEmail {
		out = append(out, p)
	}
	s.peers.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OwnerEmail < out[j].OwnerEmail })
	return out
}

// FindPeers resolves the owners of hash to their current endpoints.
// Offline owners are skipped; duplicate endpoints are reported once.
func (s *Store) FindPeers(hash string) []model.PeerEndpoint {
	owners := s.owners(hash)

	s.peers.mu.RLock()
	defer s.peers.mu.RUnlock()

	seen := make(map[model.PeerEndpoint]struct{})
	out := make([]model.PeerEndpoint, 0)
	for _, email := range owners {
		p, ok := s.peers.byEmail[email]
		if !ok {
			continue
		}
		ep := model.PeerEndpoint{IP: p.IP, Port: p.Port}
		if _, dup := seen[ep]; dup {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
		if len(out) == MaxPeerResults {
			break
		}
	}
	return out
}
