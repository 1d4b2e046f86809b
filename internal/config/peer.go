package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Peer holds the peer client settings.
type Peer struct {
	Server          string        `toml:"server"`
	Listen          string        `toml:"listen"`
	AdvertisePort   int           `toml:"advertise_port"`
	SharedDir       string        `toml:"shared_dir"`
	DownloadDir     string        `toml:"download_dir"`
	ChunkSize       int32         `toml:"chunk_size"`
	DialTimeout     time.Duration `toml:"dial_timeout"`
	IOTimeout       time.Duration `toml:"io_timeout"`
	ConnectAttempts int           `toml:"connect_attempts"`
	UploadRate      int           `toml:"upload_rate"`
	MaxUploads      int           `toml:"max_uploads"`
	Verbose         bool          `toml:"verbose"`
}

// MaxChunkSize bounds the configurable chunk size.
const MaxChunkSize = 16 << 20

// DefaultPeer returns the built-in peer settings.
func DefaultPeer() *Peer {
	return &Peer{
		Server:          "127.0.0.1:18888",
		Listen:          ":0",
		SharedDir:       "./files_to_share",
		DownloadDir:     "./downloads",
		ChunkSize:       512 * 1024,
		DialTimeout:     5 * time.Second,
		IOTimeout:       10 * time.Second,
		ConnectAttempts: 3,
	}
}

// LoadPeerFile overlays the TOML file at path onto cfg. An empty path is a no-op.
func LoadPeerFile(path string, cfg *Peer) error {
	if path == "" {
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// Override copies into c every field of o whose flag name was set on the command line.
func (c *Peer) Override(o *Peer, changed func(flag string) bool) {
	set := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}
	set("server", func() { c.Server = o.Server })
	set("listen", func() { c.Listen = o.Listen })
	set("advertise-port", func() { c.AdvertisePort = o.AdvertisePort })
	set("shared-dir", func() { c.SharedDir = o.SharedDir })
	set("download-dir", func() { c.DownloadDir = o.DownloadDir })
	set("chunk-size", func() { c.ChunkSize = o.ChunkSize })
	set("dial-timeout", func() { c.DialTimeout = o.DialTimeout })
	set("io-timeout", func() { c.IOTimeout = o.IOTimeout })
	set("connect-attempts", func() { c.ConnectAttempts = o.ConnectAttempts })
	set("upload-rate", func() { c.UploadRate = o.UploadRate })
	set("max-uploads", func() { c.MaxUploads = o.MaxUploads })
	set("verbose", func() { c.Verbose = o.Verbose })
}

// Validate rejects settings the peer cannot run with.
func (c *Peer) Validate() error {
	switch {
	case c.Server == "":
		return errors.New("empty server address")
	case c.ChunkSize <= 0 || c.ChunkSize > MaxChunkSize:
		return fmt.Errorf("chunk size %d out of range (0, %d]", c.ChunkSize, MaxChunkSize)
	case c.AdvertisePort < 0 || c.AdvertisePort > 65535:
		return fmt.Errorf("advertise port %d out of range", c.AdvertisePort)
	case c.ConnectAttempts <= 0:
		return errors.New("connect attempts must be positive")
	case c.UploadRate < 0 || c.MaxUploads < 0:
		return errors.New("upload limits must not be negative")
	}
	return nil
}
