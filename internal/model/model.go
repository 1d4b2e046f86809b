// Package model defines domain entities used by the store, services and engines.
package model

import (
	"net"
	"strconv"
	"time"
)

// User is a registered account. Secret holds the encoded password hash.
type User struct {
	Email       string // unique
	DisplayName string
	Secret      string
}

// PublishedFile is one owner's announcement of a content hash.
// The pair (Hash, OwnerEmail) is unique.
type PublishedFile struct {
	Filename   string
	Hash       string
	OwnerEmail string
	Size       int64
	ChunkSize  int32
}

// FileSummary is a de-duplicated search/browse row.
type FileSummary struct {
	Filename  string
	Hash      string
	Size      int64
	ChunkSize int32
}

// TotalChunks returns ceil(Size / ChunkSize).
func (f FileSummary) TotalChunks() int {
	return TotalChunks(f.Size, f.ChunkSize)
}

// TotalChunks returns the number of chunks of chunkSize needed to hold size bytes.
func TotalChunks(size int64, chunkSize int32) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	cs := int64(chunkSize)
	return int((size + cs - 1) / cs)
}

// Session is a successful login bound to one email.
type Session struct {
	Token      string
	OwnerEmail string
	CreatedAt  time.Time
}

// ConnectedPeer is the current P2P endpoint of a logged-in user.
type ConnectedPeer struct {
	OwnerEmail  string // unique
	IP          string
	Port        int
	ConnectedAt time.Time
	// Token is the session opened by the login that recorded this entry.
	Token string
}

// PeerEndpoint is an address a downloader can dial.
type PeerEndpoint struct {
	IP   string
	Port int
}

// Addr returns the endpoint in host:port form.
func (p PeerEndpoint) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}
