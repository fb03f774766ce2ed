// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

//go:embed example-config.yaml
var ExampleConfig string

// RoomRole names a special room.
type RoomRole string

const (
	RoleControl RoomRole = "control"
	RoleAllChat RoomRole = "all_chat"
)

// SpecialRoles lists the special room roles in setup order.
var SpecialRoles = []RoomRole{RoleControl, RoleAllChat}

// Config is the full bridge configuration.
type Config struct {
	Matrix  MatrixConfig      `yaml:"matrix"`
	XMPP    XMPPConfig        `yaml:"xmpp"`
	Bridge  BridgeConfig      `yaml:"bridge"`
	Logging zeroconfig.Config `yaml:"logging"`
}

// MatrixConfig holds the messaging-network credentials.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	AccessToken string `yaml:"access_token"`
	// UsersToInvite are invited to every room the bridge knows about.
	UsersToInvite []id.UserID `yaml:"users_to_invite"`
}

// XMPPConfig holds the contact-network credentials and group settings.
type XMPPConfig struct {
	Host     string `yaml:"host"`
	JID      string `yaml:"jid"`
	Password string `yaml:"password"`
	Resource string `yaml:"resource"`
	NoTLS    bool   `yaml:"no_tls"`
	StartTLS bool   `yaml:"starttls"`
	// Nickname is used when joining group conversations. Defaults to the
	// local part of the JID.
	Nickname string `yaml:"nickname"`
	// GroupPrefix marks room topics that represent group conversations.
	GroupPrefix   string `yaml:"group_prefix"`
	AutoAuthorize bool   `yaml:"auto_authorize"`
	AutoSubscribe bool   `yaml:"auto_subscribe"`
}

// BridgeConfig holds the relay policy switches and operational settings.
type BridgeConfig struct {
	SendMessagesToAllChat  bool                `yaml:"send_messages_to_all_chat"`
	SendPresencesToControl bool                `yaml:"send_presences_to_control"`
	MuteOwnNick            bool                `yaml:"mute_own_nick"`
	RefreshInterval        time.Duration       `yaml:"refresh_interval"`
	RestartDelay           time.Duration       `yaml:"restart_delay"`
	AdminAPIAddr           string              `yaml:"admin_api_addr"`
	SpecialRoomNames       map[RoomRole]string `yaml:"special_room_names"`
}

// DefaultConfig returns the values used for keys missing from the file.
func DefaultConfig() Config {
	return Config{
		XMPP: XMPPConfig{
			Resource:      "mautrix-xmpp",
			GroupPrefix:   "#",
			AutoAuthorize: true,
			AutoSubscribe: true,
		},
		Bridge: BridgeConfig{
			SendMessagesToAllChat:  true,
			SendPresencesToControl: true,
			MuteOwnNick:            true,
			RestartDelay:           5 * time.Second,
			SpecialRoomNames: map[RoomRole]string{
				RoleControl: "XMPP Control Room",
				RoleAllChat: "XMPP All Chat",
			},
		},
	}
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	raw := rawConfig(DefaultConfig())
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*c = Config(raw)
	return nil
}

// LoadConfig reads, decodes and validates the config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML config document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets be supplied through the environment instead of the
// config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("MXPP_MATRIX_PASSWORD"); v != "" {
		c.Matrix.Password = v
	}
	if v := os.Getenv("MXPP_MATRIX_ACCESS_TOKEN"); v != "" {
		c.Matrix.AccessToken = v
	}
	if v := os.Getenv("MXPP_XMPP_PASSWORD"); v != "" {
		c.XMPP.Password = v
	}
}

// PostProcess validates the config and fills derived defaults.
func (c *Config) PostProcess() error {
	var errs []error
	if c.Matrix.Homeserver == "" {
		errs = append(errs, errors.New("matrix.homeserver is required"))
	}
	if c.Matrix.AccessToken == "" {
		if c.Matrix.Password == "" {
			errs = append(errs, errors.New("matrix.password or matrix.access_token is required"))
		}
		if c.Matrix.Username == "" {
			errs = append(errs, errors.New("matrix.username is required for password login"))
		}
	}
	if c.XMPP.Host == "" {
		errs = append(errs, errors.New("xmpp.host is required"))
	}
	if !LooksLikeIdentity(c.XMPP.JID) {
		errs = append(errs, fmt.Errorf("xmpp.jid %q is not a valid address", c.XMPP.JID))
	}
	if c.XMPP.Password == "" {
		errs = append(errs, errors.New("xmpp.password is required"))
	}
	if c.XMPP.GroupPrefix == "" || strings.Contains(c.XMPP.GroupPrefix, IdentitySeparator) {
		errs = append(errs, fmt.Errorf("xmpp.group_prefix %q must be non-empty and must not contain %q", c.XMPP.GroupPrefix, IdentitySeparator))
	}
	if c.Bridge.RefreshInterval < 0 || c.Bridge.RestartDelay < 0 {
		errs = append(errs, errors.New("bridge intervals must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	if c.XMPP.Nickname == "" {
		c.XMPP.Nickname = Identity(c.XMPP.JID).LocalPart()
	}
	if c.Bridge.SpecialRoomNames == nil {
		c.Bridge.SpecialRoomNames = make(map[RoomRole]string)
	}
	defaults := DefaultConfig().Bridge.SpecialRoomNames
	for _, role := range SpecialRoles {
		if c.Bridge.SpecialRoomNames[role] == "" {
			c.Bridge.SpecialRoomNames[role] = defaults[role]
		}
	}
	return nil
}

// SelfIdentity returns the bare identity of the bridge's XMPP account.
func (c XMPPConfig) SelfIdentity() Identity {
	bare, _ := ParseAddress(c.JID)
	return bare
}
