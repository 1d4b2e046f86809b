// Package convert maps domain entities to wire records and back.
package convert

import (
	"errors"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/wire"
)

// --- files ---

// ToWireFiles converts summaries to result rows, keeping at most wire.MaxFiles.
func ToWireFiles(in []model.FileSummary) []wire.FileInfo {
	n := min(len(in), wire.MaxFiles)
	out := make([]wire.FileInfo, 0, n)
	for _, f := range in[:n] {
		out = append(out, wire.FileInfo{
			Filename:  f.Filename,
			Hash:      f.Hash,
			Size:      f.Size,
			ChunkSize: f.ChunkSize,
		})
	}
	return out
}

// FromWireFiles converts result rows to summaries.
func FromWireFiles(in []wire.FileInfo) []model.FileSummary {
	out := make([]model.FileSummary, 0, len(in))
	for _, f := range in {
		out = append(out, model.FileSummary{
			Filename:  f.Filename,
			Hash:      f.Hash,
			Size:      f.Size,
			ChunkSize: f.ChunkSize,
		})
	}
	return out
}

// --- peers ---

// ToWirePeers converts endpoints, keeping at most wire.MaxPeers.
func ToWirePeers(in []model.PeerEndpoint) []wire.PeerInfo {
	n := min(len(in), wire.MaxPeers)
	out := make([]wire.PeerInfo, 0, n)
	for _, p := range in[:n] {
		out = append(out, wire.PeerInfo{IP: p.IP, Port: int32(p.Port)})
	}
	return out
}

// FromWirePeers converts endpoints received from the directory.
func FromWirePeers(in []wire.PeerInfo) []model.PeerEndpoint {
	out := make([]model.PeerEndpoint, 0, len(in))
	for _, p := range in {
		out = append(out, model.PeerEndpoint{IP: p.IP, Port: int(p.Port)})
	}
	return out
}

// --- statuses ---

// StatusFromError maps a service error to the response status sent to clients.
func StatusFromError(err error) wire.Status {
	switch {
	case err == nil:
		return wire.StatusSuccess
	case errors.Is(err, errs.ErrAlreadyExists):
		return wire.StatusUserExists
	case errors.Is(err, errs.ErrUnauthorized):
		return wire.StatusInvalidCredentials
	case errors.Is(err, errs.ErrRateLimited):
		return wire.StatusUnauthorized
	case errors.Is(err, errs.ErrInvalidToken):
		return wire.StatusInvalidToken
	case errors.Is(err, errs.ErrNotOwner):
		return wire.StatusFileNotOwned
	case errors.Is(err, errs.ErrInvalidInput):
		return wire.StatusInvalidInput
	case errors.Is(err, errs.ErrAlreadyLoggedIn):
		return wire.StatusAlreadyLoggedIn
	case errors.Is(err, errs.ErrNotFound):
		return wire.StatusNotFound
	default:
		return wire.StatusFail
	}
}

// ErrorFromStatus is the client-side inverse of StatusFromError.
// Success maps to nil; Fail and unknown codes map to a plain error.
func ErrorFromStatus(s wire.Status) error {
	switch s {
	case wire.StatusSuccess:
		return nil
	case wire.StatusUserExists:
		return errs.ErrAlreadyExists
	case wire.StatusInvalidCredentials:
		return errs.ErrUnauthorized
	case wire.StatusUnauthorized:
		return errs.ErrRateLimited
	case wire.StatusInvalidToken:
		return errs.ErrInvalidToken
	case wire.StatusFileNotOwned:
		return errs.ErrNotOwner
	case wire.StatusInvalidInput:
		return errs.ErrInvalidInput
	case wire.StatusAlreadyLoggedIn:
		return errs.ErrAlreadyLoggedIn
	case wire.StatusNotFound:
		return errs.ErrNotFound
	default:
		return &StatusError{Status: s}
	}
}

// StatusError reports a response status with no matching sentinel.
type StatusError struct {
	Status wire.Status
}

func (e *StatusError) Error() string { return "server replied " + e.Status.String() }
