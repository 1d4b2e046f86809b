package wire

import "fmt"

// Command identifies a record kind on either protocol.
type Command int32

// Directory protocol commands.
const (
	CmdRegister       Command = 1
	CmdLogin          Command = 2
	CmdSearch         Command = 3
	CmdFindPeers      Command = 4
	CmdPublish        Command = 5
	CmdUnpublish      Command = 6
	CmdLogout         Command = 7
	CmdDownloadStatus Command = 8
	CmdBrowse         Command = 9
)

func (c Command) String() string {
	switch c {
	case CmdRegister:
		return "register"
	case CmdLogin:
		return "login"
	case CmdSearch:
		return "search"
	case CmdFindPeers:
		return "find_peers"
	case CmdPublish:
		return "publish"
	case CmdUnpublish:
		return "unpublish"
	case CmdLogout:
		return "logout"
	case CmdDownloadStatus:
		return "download_status"
	case CmdBrowse:
		return "browse"
	case CmdHandshake:
		return "p2p_handshake"
	case CmdHandshakeResult:
		return "p2p_handshake_result"
	case CmdBitmap:
		return "p2p_bitmap"
	case CmdChunkRequest:
		return "p2p_chunk_request"
	case CmdChunkData:
		return "p2p_chunk_data"
	case CmdDisconnect:
		return "p2p_disconnect"
	}
	return fmt.Sprintf("command(%d)", int32(c))
}

// Status is a directory response code.
type Status int32

// Directory response statuses.
const (
	StatusSuccess            Status = 100
	StatusFail               Status = 101
	StatusUserExists         Status = 102
	StatusInvalidCredentials Status = 103
	StatusNotFound           Status = 104
	StatusInvalidToken       Status = 105
	StatusUnauthorized       Status = 106
	StatusFileNotOwned       Status = 107
	StatusInvalidInput       Status = 108
	StatusAlreadyLoggedIn    Status = 109
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFail:
		return "fail"
	case StatusUserExists:
		return "user_exists"
	case StatusInvalidCredentials:
		return "invalid_credentials"
	case StatusNotFound:
		return "not_found"
	case StatusInvalidToken:
		return "invalid_token"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusFileNotOwned:
		return "file_not_owned"
	case StatusInvalidInput:
		return "invalid_input"
	case StatusAlreadyLoggedIn:
		return "already_logged_in"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Field capacities in bytes, NUL terminator included.
const (
	EmailCap    = 100
	UsernameCap = 50
	PasswordCap = 50
	FilenameCap = 256
	HashCap     = 65
	IPCap       = 46
	TokenCap    = 512
)

// Fixed list capacities of the search and find-peers responses.
const (
	MaxFiles = 100
	MaxPeers = 50
)

const (
	authSize     = EmailCap + TokenCap
	fileInfoSize = FilenameCap + HashCap + 8 + 4
	peerInfoSize = IPCap + 4
)

// Auth carries the session credentials of authenticated requests.
type Auth struct {
	Email string
	Token string
}

func (a Auth) encode(e *encoder) {
	e.str(a.Email, EmailCap)
	e.str(a.Token, TokenCap)
}

func (a *Auth) decode(d *decoder) {
	a.Email = d.str(EmailCap)
	a.Token = d.str(TokenCap)
}

// StatusResponse answers Register, Publish, Unpublish, Logout and DownloadStatus.
type StatusResponse struct {
	Header
	Status Status
}

func (StatusResponse) Size() int { return HeaderSize + 4 }
func (m StatusResponse) encode(e *encoder) { e.int32(int32(m.Status)) }
func (m *StatusResponse) decode(d *decoder) { m.Status = Status(d.int32()) }

// RegisterRequest creates an account.
type RegisterRequest struct {
	Header
	Email    string
	Username string
	Password string
}

func (RegisterRequest) Size() int { return HeaderSize + EmailCap + UsernameCap + PasswordCap }

func (m RegisterRequest) encode(e *encoder) {
	e.str(m.Email, EmailCap)
	e.str(m.Username, UsernameCap)
	e.str(m.Password, PasswordCap)
}

func (m *RegisterRequest) decode(d *decoder) {
	m.Email = d.str(EmailCap)
	m.Username = d.str(UsernameCap)
	m.Password = d.str(PasswordCap)
}

// LoginRequest authenticates and declares the caller's P2P listening port.
// Port 0 asks the server to use the source port of the connection.
type LoginRequest struct {
	Header
	Email    string
	Password string
	Port     int32
}

func (LoginRequest) Size() int { return HeaderSize + EmailCap + PasswordCap + 4 }

func (m LoginRequest) encode(e *encoder) {
	e.str(m.Email, EmailCap)
	e.str(m.Password, PasswordCap)
	e.int32(m.Port)
}

func (m *LoginRequest) decode(d *decoder) {
	m.Email = d.str(EmailCap)
	m.Password = d.str(PasswordCap)
	m.Port = d.int32()
}

// LoginResponse returns the display name and session token on success.
type LoginResponse struct {
	Header
	Status   Status
	Username string
	Token    string
}

func (LoginResponse) Size() int { return HeaderSize + 4 + UsernameCap + TokenCap }

func (m LoginResponse) encode(e *encoder) {
	e.int32(int32(m.Status))
	e.str(m.Username, UsernameCap)
	e.str(m.Token, TokenCap)
}

func (m *LoginResponse) decode(d *decoder) {
	m.Status = Status(d.int32())
	m.Username = d.str(UsernameCap)
	m.Token = d.str(TokenCap)
}

// SearchRequest looks up published files whose name contains Keyword.
type SearchRequest struct {
	Header
	Auth
	Keyword string
}

func (SearchRequest) Size() int { return HeaderSize + authSize + FilenameCap }

func (m SearchRequest) encode(e *encoder) {
	m.Auth.encode(e)
	e.str(m.Keyword, FilenameCap)
}

func (m *SearchRequest) decode(d *decoder) {
	m.Auth.decode(d)
	m.Keyword = d.str(FilenameCap)
}

// BrowseRequest lists every published file.
type BrowseRequest struct {
	Header
	Auth
}

func (BrowseRequest) Size() int { return HeaderSize + authSize }
func (m BrowseRequest) encode(e *encoder) { m.Auth.encode(e) }
func (m *BrowseRequest) decode(d *decoder) { m.Auth.decode(d) }

// FileInfo is one row of a search or browse result.
type FileInfo struct {
	Filename  string
	Hash      string
	Size      int64
	ChunkSize int32
}

// FileListResponse answers Search and Browse. At most MaxFiles rows are carried.
type FileListResponse struct {
	Header
	Status Status
	Files  []FileInfo
}

func (FileListResponse) Size() int { return HeaderSize + 8 + MaxFiles*fileInfoSize }

func (m FileListResponse) encode(e *encoder) {
	if len(m.Files) > MaxFiles && e.err == nil {
		e.err = fmt.Errorf("wire: %d files exceed capacity %d", len(m.Files), MaxFiles)
	}
	e.int32(int32(m.Status))
	e.int32(int32(min(len(m.Files), MaxFiles)))
	for i := 0; i < MaxFiles; i++ {
		var f FileInfo
		if i < len(m.Files) {
			f = m.Files[i]
		}
		e.str(f.Filename, FilenameCap)
		e.str(f.Hash, HashCap)
		e.int64(f.Size)
		e.int32(f.ChunkSize)
	}
}

func (m *FileListResponse) decode(d *decoder) {
	m.Status = Status(d.int32())
	n := d.count(MaxFiles)
	m.Files = make([]FileInfo, 0, n)
	for i := 0; i < MaxFiles; i++ {
		f := FileInfo{
			Filename:  d.str(FilenameCap),
			Hash:      d.str(HashCap),
			Size:      d.int64(),
			ChunkSize: d.int32(),
		}
		if i < n {
			m.Files = append(m.Files, f)
		}
	}
}

// FindPeersRequest asks which online peers hold Hash.
type FindPeersRequest struct {
	Header
	Auth
	Hash string
}

func (FindPeersRequest) Size() int { return HeaderSize + authSize + HashCap }

func (m FindPeersRequest) encode(e *encoder) {
	m.Auth.encode(e)
	e.str(m.Hash, HashCap)
}

func (m *FindPeersRequest) decode(d *decoder) {
	m.Auth.decode(d)
	m.Hash = d.str(HashCap)
}

// PeerInfo is one reachable endpoint.
type PeerInfo struct {
	IP   string
	Port int32
}

// FindPeersResponse carries at most MaxPeers endpoints.
type FindPeersResponse struct {
	Header
	Status Status
	Peers  []PeerInfo
}

func (FindPeersResponse) Size() int { return HeaderSize + 8 + MaxPeers*peerInfoSize }

func (m FindPeersResponse) encode(e *encoder) {
	if len(m.Peers) > MaxPeers && e.err == nil {
		e.err = fmt.Errorf("wire: %d peers exceed capacity %d", len(m.Peers), MaxPeers)
	}
	e.int32(int32(m.Status))
	e.int32(int32(min(len(m.Peers), MaxPeers)))
	for i := 0; i < MaxPeers; i++ {
		var p PeerInfo
		if i < len(m.Peers) {
			p = m.Peers[i]
		}
		e.str(p.IP, IPCap)
		e.int32(p.Port)
	}
}

func (m *FindPeersResponse) decode(d *decoder) {
	m.Status = Status(d.int32())
	n := d.count(MaxPeers)
	m.Peers = make([]PeerInfo, 0, n)
	for i := 0; i < MaxPeers; i++ {
		p := PeerInfo{IP: d.str(IPCap), Port: d.int32()}
		if i < n {
			m.Peers = append(m.Peers, p)
		}
	}
}

// PublishRequest announces that the caller holds a file.
type PublishRequest struct {
	Header
	Auth
	Filename  string
	Hash      string
	FileSize  int64
	ChunkSize int32
}

func (PublishRequest) Size() int {
	return HeaderSize + authSize + FilenameCap + HashCap + 8 + 4
}

func (m PublishRequest) encode(e *encoder) {
	m.Auth.encode(e)
	e.str(m.Filename, FilenameCap)
	e.str(m.Hash, HashCap)
	e.int64(m.FileSize)
	e.int32(m.ChunkSize)
}

func (m *PublishRequest) decode(d *decoder) {
	m.Auth.decode(d)
	m.Filename = d.str(FilenameCap)
	m.Hash = d.str(HashCap)
	m.FileSize = d.int64()
	m.ChunkSize = d.int32()
}

// UnpublishRequest withdraws the caller's own announcement of Hash.
type UnpublishRequest struct {
	Header
	Auth
	Hash string
}

func (UnpublishRequest) Size() int { return HeaderSize + authSize + HashCap }

func (m UnpublishRequest) encode(e *encoder) {
	m.Auth.encode(e)
	e.str(m.Hash, HashCap)
}

func (m *UnpublishRequest) decode(d *decoder) {
	m.Auth.decode(d)
	m.Hash = d.str(HashCap)
}

// LogoutRequest ends the session; the server closes the connection after replying.
type LogoutRequest struct {
	Header
	Auth
}

func (LogoutRequest) Size() int { return HeaderSize + authSize }
func (m LogoutRequest) encode(e *encoder) { m.Auth.encode(e) }
func (m *LogoutRequest) decode(d *decoder) { m.Auth.decode(d) }

// DownloadStatusRequest reports the outcome of one download attempt.
type DownloadStatusRequest struct {
	Header
	Auth
	Hash    string
	Success bool
}

func (DownloadStatusRequest) Size() int { return HeaderSize + authSize + HashCap + 4 }

func (m DownloadStatusRequest) encode(e *encoder) {
	m.Auth.encode(e)
	e.str(m.Hash, HashCap)
	var ok int32
	if m.Success {
		ok = 1
	}
	e.int32(ok)
}

func (m *DownloadStatusRequest) decode(d *decoder) {
	m.Auth.decode(d)
	m.Hash = d.str(HashCap)
	m.Success = d.int32() == 1
}

// NewRequest returns an empty request record for a directory command.
func NewRequest(c Command) (Message, bool) {
	switch c {
	case CmdRegister:
		return &RegisterRequest{}, true
	case CmdLogin:
		return &LoginRequest{}, true
	case CmdSearch:
		return &SearchRequest{}, true
	case CmdBrowse:
		return &BrowseRequest{}, true
	case CmdFindPeers:
		return &FindPeersRequest{}, true
	case CmdPublish:
		return &PublishRequest{}, true
	case CmdUnpublish:
		return &UnpublishRequest{}, true
	case CmdLogout:
		return &LogoutRequest{}, true
	case CmdDownloadStatus:
		return &DownloadStatusRequest{}, true
	}
	return nil, false
}
