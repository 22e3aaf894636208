package vanet

import (
	"io"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	DefaultPort         = 9885
	DefaultAckThreshold = 50
	DefaultLeadName     = "Lead"

	// sequence numbers are carried as at most four digits
	MaxSequence = 9999
)

// Config holds the tunables shared by the lead and follower engines. It is
// built once at startup and never mutated by the engines.
type Config struct {
	Port int `toml:"port"`

	// packets each follower must acknowledge before the ride ends
	Quota              int `toml:"quota"`
	MaxRounds          int `toml:"max_rounds"`
	MaxFollowerPackets int `toml:"max_follower_packets"`

	AckTimeoutMs int `toml:"ack_timeout_ms"`
	RoundDelayMs int `toml:"round_delay_ms"`
	SendPacingMs int `toml:"send_pacing_ms"`

	TransmissionRange float64 `toml:"transmission_range"`
	AckThreshold      int     `toml:"ack_threshold"`
	VerifyChecksum    bool    `toml:"verify_checksum"`
	LeadName          string  `toml:"lead_name"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:               DefaultPort,
		Quota:              20,
		MaxRounds:          25,
		MaxFollowerPackets: 25,
		AckTimeoutMs:       500,
		RoundDelayMs:       500,
		SendPacingMs:       2,
		TransmissionRange:  90,
		AckThreshold:       DefaultAckThreshold,
		LeadName:           DefaultLeadName,
	}
}

func LoadConfig(fileName string) (*Config, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", fileName)
	}
	defer file.Close()
	return NewConfigFromReader(file)
}

// NewConfigFromReader decodes TOML on top of DefaultConfig so that a file
// only needs to name the values it changes.
func NewConfigFromReader(configReader io.Reader) (*Config, error) {
	configData, err := ioutil.ReadAll(configReader)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config reader")
	}
	config := DefaultConfig()
	if _, err := toml.Decode(string(configData), config); err != nil {
		return nil, errors.Wrap(err, "unable to load vanet configuration")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return errors.Errorf("invalid port %d", c.Port)
	case c.Quota <= 0 || c.Quota > MaxSequence:
		return errors.Errorf("quota must be between 1 and %d, got %d", MaxSequence, c.Quota)
	case c.MaxRounds < c.Quota:
		return errors.Errorf("max_rounds (%d) must be at least quota (%d)", c.MaxRounds, c.Quota)
	case c.MaxFollowerPackets <= 0:
		return errors.Errorf("max_follower_packets must be positive, got %d", c.MaxFollowerPackets)
	case c.AckTimeoutMs <= 0:
		return errors.Errorf("ack_timeout_ms must be positive, got %d", c.AckTimeoutMs)
	case c.RoundDelayMs < 0 || c.SendPacingMs < 0:
		return errors.New("delays cannot be negative")
	case c.TransmissionRange < 0:
		return errors.Errorf("transmission_range cannot be negative, got %v", c.TransmissionRange)
	case c.AckThreshold <= 0:
		return errors.Errorf("ack_threshold must be positive, got %d", c.AckThreshold)
	}
	if err := CheckName(c.LeadName); err != nil {
		return errors.Wrap(err, "lead_name")
	}
	return nil
}

// CheckName rejects vehicle names that would not travel as a single token
// in an acknowledgement.
func CheckName(name string) error {
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return errors.Errorf("vehicle name %q must be a single word", name)
	}
	return nil
}

func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMs) * time.Millisecond
}

func (c *Config) RoundDelay() time.Duration {
	return time.Duration(c.RoundDelayMs) * time.Millisecond
}

func (c *Config) SendPacing() time.Duration {
	return time.Duration(c.SendPacingMs) * time.Millisecond
}
