package vanet

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigFromReader(t *testing.T) {
	cfg, err := NewConfigFromReader(strings.NewReader(`
quota = 5
max_rounds = 8
ack_timeout_ms = 250
transmission_range = 60.5
verify_checksum = true
`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Quota)
	assert.Equal(t, 8, cfg.MaxRounds)
	assert.Equal(t, 250*time.Millisecond, cfg.AckTimeout())
	assert.Equal(t, 60.5, cfg.TransmissionRange)
	assert.True(t, cfg.VerifyChecksum)

	// untouched values keep their defaults
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.RoundDelay())
	assert.Equal(t, 2*time.Millisecond, cfg.SendPacing())
	assert.Equal(t, DefaultLeadName, cfg.LeadName)
	assert.Equal(t, DefaultAckThreshold, cfg.AckThreshold)
}

func TestNewConfigFromReaderErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":          `quota = `,
		"type":            `quota = "many"`,
		"port":            `port = 70000`,
		"quota":           `quota = 0`,
		"quota too big":   "quota = 10000\nmax_rounds = 20000",
		"rounds":          `max_rounds = 3`,
		"follower cap":    `max_follower_packets = 0`,
		"ack timeout":     `ack_timeout_ms = 0`,
		"negative delay":  `round_delay_ms = -1`,
		"range":           `transmission_range = -5.0`,
		"threshold":       `ack_threshold = 0`,
		"lead name":       `lead_name = ""`,
		"lead name words": `lead_name = "Lead Car"`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfigFromReader(strings.NewReader(data))
			assert.Error(t, err)
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("does-not-exist.toml")
	assert.Error(t, err)
}

func TestCheckName(t *testing.T) {
	assert.NoError(t, CheckName("EC"))
	for _, name := range []string{"", "Car Y", "Y\t", "Y\n"} {
		assert.Error(t, CheckName(name), "%q", name)
	}
}
