// Package config builds server and peer settings from defaults, optional
// files and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/and161185/p2p-share/internal/flagx"
)

// Environment variables read by LoadServer.
const (
	EnvTokenKey = "P2PSHARE_TOKEN_KEY"
	EnvDSN      = "P2PSHARE_DSN"
	EnvAddr     = "P2PSHARE_ADDR"
)

// Server holds the directory server settings.
type Server struct {
	Addr          string        `toml:"addr"`
	HealthAddr    string        `toml:"health_addr"`
	DataDir       string        `toml:"data_dir"`
	UsersFile     string        `toml:"users_file"`
	FilesFile     string        `toml:"files_file"`
	DSN           string        `toml:"dsn"`
	TokenKey      string        `toml:"token_key"`
	SessionTTL    time.Duration `toml:"session_ttl"`
	IdleTimeout   time.Duration `toml:"idle_timeout"`
	LoginWindow   time.Duration `toml:"login_window"`
	LoginMaxFails int           `toml:"login_max_fails"`
	LoginBlockFor time.Duration `toml:"login_block_for"`
	Dev           bool          `toml:"dev"`
}

// DefaultServer returns the built-in server settings.
func DefaultServer() *Server {
	return &Server{
		Addr:          ":18888",
		DataDir:       ".",
		UsersFile:     "users.txt",
		FilesFile:     "shared_files.txt",
		SessionTTL:    time.Hour,
		IdleTimeout:   300 * time.Second,
		LoginWindow:   15 * time.Minute,
		LoginMaxFails: 5,
		LoginBlockFor: 15 * time.Minute,
	}
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// LoadServer applies, over the defaults: environment variables, the TOML
// file named by -config, then the flags in args.
func LoadServer(args []string, getenv func(string) string) (*Server, error) {
	cfg := DefaultServer()

	if v := getenv(EnvTokenKey); v != "" {
		cfg.TokenKey = v
	}
	if v := getenv(EnvDSN); v != "" {
		cfg.DSN = v
	}
	if v := getenv(EnvAddr); v != "" {
		cfg.Addr = v
	}

	if path := flagx.ConfigPath(args); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	fset := flag.NewFlagSet("p2p-server", flag.ContinueOnError)
	var configPath string
	fset.StringVar(&configPath, "config", "", "TOML config file")
	fset.StringVar(&configPath, "c", "", "TOML config file (short)")
	fset.StringVar(&cfg.Addr, "addr", cfg.Addr, "directory listen address")
	fset.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address (empty disables)")
	fset.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory of the flat-file tables")
	fset.StringVar(&cfg.UsersFile, "users-file", cfg.UsersFile, "user table file name")
	fset.StringVar(&cfg.FilesFile, "files-file", cfg.FilesFile, "shared file table file name")
	fset.StringVar(&cfg.DSN, "dsn", cfg.DSN, "PostgreSQL DSN (empty uses flat files)")
	fset.StringVar(&cfg.TokenKey, "token-key", cfg.TokenKey, "HS256 session token key (required)")
	fset.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "session lifetime from login")
	fset.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close silent client connections after")
	fset.DurationVar(&cfg.LoginWindow, "login-window", cfg.LoginWindow, "failed login counting window")
	fset.IntVar(&cfg.LoginMaxFails, "login-max-fails", cfg.LoginMaxFails, "failed logins before blocking")
	fset.DurationVar(&cfg.LoginBlockFor, "login-block-for", cfg.LoginBlockFor, "login block duration")
	fset.BoolVar(&cfg.Dev, "dev", cfg.Dev, "development logging")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Server) Validate() error {
	switch {
	case c.TokenKey == "":
		return fmt.Errorf("missing token key (-token-key or %s)", EnvTokenKey)
	case c.Addr == "":
		return errors.New("empty listen address")
	case c.SessionTTL <= 0, c.IdleTimeout <= 0:
		return errors.New("session ttl and idle timeout must be positive")
	case c.LoginMaxFails <= 0 || c.LoginWindow <= 0 || c.LoginBlockFor <= 0:
		return errors.New("login limiter settings must be positive")
	}
	return nil
}

// UsersPath is the user table file.
func (c *Server) UsersPath() string { return filepath.Join(c.DataDir, c.UsersFile) }

// FilesPath is the shared file table file.
func (c *Server) FilesPath() string { return filepath.Join(c.DataDir, c.FilesFile) }
