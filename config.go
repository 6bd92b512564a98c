package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LobbyConfig tunes matchmaking
type LobbyConfig struct {
	StartDelay    time.Duration `yaml:"start_delay"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	TicketTTL     time.Duration `yaml:"ticket_ttl"`
	TicketSecret  string        `yaml:"ticket_secret"`
	RequireTicket bool          `yaml:"require_ticket"`
}

// LimitsConfig caps connections
type LimitsConfig struct {
	MaxConnsPerIP int `yaml:"max_conns_per_ip"`
	MaxTotalConns int `yaml:"max_total_conns"`
}

// Config is the server configuration. Values come from defaults, then the
// YAML file, then ARENA_* environment variables (a .env file is loaded first).
type Config struct {
	Addr        string        `yaml:"addr"`
	ClientDir   string        `yaml:"client_dir"`
	DBPath      string        `yaml:"db_path"`
	LogLevel    string        `yaml:"log_level"`
	MapFile     string        `yaml:"map_file"`
	TickRate    int           `yaml:"tick_rate"`
	InputBuffer int           `yaml:"input_buffer"`
	World       World         `yaml:"world"`
	Match       MatchSettings `yaml:"match"`
	Lobby       LobbyConfig   `yaml:"lobby"`
	Limits      LimitsConfig  `yaml:"limits"`
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		DBPath:      "data/arena.db",
		LogLevel:    "info",
		TickRate:    DefaultTickRate,
		InputBuffer: defaultInputBufferSize,
		World:       World{Width: 960, Height: 720},
		Match:       MatchSettings{MinPlayers: 2, MaxPlayers: 4},
		Lobby: LobbyConfig{
			StartDelay:    DefaultStartDelay,
			TTL:           defaultLobbyTTL,
			SweepInterval: defaultSweepInterval,
			TicketTTL:     defaultTicketTTL,
		},
		Limits: LimitsConfig{
			MaxConnsPerIP: maxConnsPerIP,
			MaxTotalConns: maxTotalConns,
		},
	}
}

// LoadConfig builds the configuration from defaults, path (optional) and the
// environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"ARENA_ADDR":          &cfg.Addr,
		"ARENA_CLIENT_DIR":    &cfg.ClientDir,
		"ARENA_DB":            &cfg.DBPath,
		"ARENA_LOG_LEVEL":     &cfg.LogLevel,
		"ARENA_MAP_FILE":      &cfg.MapFile,
		"ARENA_TICKET_SECRET": &cfg.Lobby.TicketSecret,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"ARENA_TICK_RATE":   &cfg.TickRate,
		"ARENA_MIN_PLAYERS": &cfg.Match.MinPlayers,
		"ARENA_MAX_PLAYERS": &cfg.Match.MaxPlayers,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv("ARENA_START_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ARENA_START_DELAY: %w", err)
		}
		cfg.Lobby.StartDelay = d
	}
	if v, ok := os.LookupEnv("ARENA_REQUIRE_TICKET"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: ARENA_REQUIRE_TICKET: %w", err)
		}
		cfg.Lobby.RequireTicket = b
	}
	return nil
}

// Validate rejects settings the server cannot run with
func (c Config) Validate() error {
	switch {
	case c.World.Width <= 2*seatMargin || c.World.Height <= 2*seatMargin:
		return fmt.Errorf("config: world %gx%g is too small for the spawn seats", c.World.Width, c.World.Height)
	case c.Match.MinPlayers < 1:
		return fmt.Errorf("config: min_players must be at least 1, got %d", c.Match.MinPlayers)
	case c.Match.MaxPlayers < c.Match.MinPlayers:
		return fmt.Errorf("config: max_players (%d) below min_players (%d)", c.Match.MaxPlayers, c.Match.MinPlayers)
	case c.TickRate <= 0 || c.TickRate > 240:
		return fmt.Errorf("config: tick_rate %d out of range 1..240", c.TickRate)
	case c.Lobby.StartDelay <= 0:
		return fmt.Errorf("config: lobby start_delay must be positive")
	}
	return nil
}

// SessionConfig derives what every match needs
func (c Config) SessionConfig(catalog MapCatalog) SessionConfig {
	return SessionConfig{
		World:           c.World,
		Settings:        c.Match,
		Catalog:         catalog,
		TickRate:        c.TickRate,
		InputBufferSize: c.InputBuffer,
	}
}

// HubConfig derives the hub wiring
func (c Config) HubConfig(catalog MapCatalog) HubConfig {
	return HubConfig{
		Session:       c.SessionConfig(catalog),
		Lobby:         c.Lobby,
		TicketSecret:  c.Lobby.TicketSecret,
		RequireTicket: c.Lobby.RequireTicket,
		MaxConnsPerIP: c.Limits.MaxConnsPerIP,
		MaxTotalConns: c.Limits.MaxTotalConns,
	}
}
