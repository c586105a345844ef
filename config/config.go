package config

import (
	"encoding/json"
	"os"
)

type Config struct {
	SIPProtocol      string `json:"sip_protocol"`
	SIPPort          int    `json:"sip_port"`
	SIPListenAddress string `json:"sip_listen_address"`

	HTTPPort int `json:"http_port"`

	// ForkListenAddress is where the utterance capture endpoint accepts
	// forked call audio. ForkTarget is the ws URL the fork pump dials,
	// normally pointing back at this process.
	ForkListenAddress string `json:"fork_listen_address"`
	ForkTarget        string `json:"fork_target"`

	BackendURL       string `json:"backend_url"`
	BackendTimeoutMs int    `json:"backend_timeout_ms"`

	TranscribeURL string `json:"transcribe_url"`
	SpeechURL     string `json:"speech_url"`

	SoundsDir   string `json:"sounds_dir"`
	DevicesFile string `json:"devices_file"`

	// OutboundHost is the SIP proxy or trunk outbound INVITEs go to.
	OutboundHost string `json:"outbound_host"`
	OutboundPort int    `json:"outbound_port"`

	// DialPrefix is prepended to outbound destination numbers, e.g. a
	// trunk access code.
	DialPrefix     string `json:"dial_prefix"`
	SIPDefaultUser string `json:"sip_default_user"`
	SIPDefaultPass string `json:"sip_default_pass"`

	MaxTurns           int `json:"max_turns"`
	UtteranceTimeoutMs int `json:"utterance_timeout_ms"`
	CallbackDelayMs    int `json:"callback_delay_ms"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SIPProtocol == "" {
		c.SIPProtocol = "udp"
	}
	if c.SIPPort == 0 {
		c.SIPPort = 5060
	}
	if c.SIPListenAddress == "" {
		c.SIPListenAddress = "0.0.0.0"
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 8080
	}
	if c.ForkListenAddress == "" {
		c.ForkListenAddress = "127.0.0.1:9090"
	}
	if c.ForkTarget == "" {
		c.ForkTarget = "ws://" + c.ForkListenAddress + "/fork"
	}
	if c.OutboundHost == "" {
		c.OutboundHost = "127.0.0.1"
	}
	if c.OutboundPort == 0 {
		c.OutboundPort = 5060
	}
	if c.BackendTimeoutMs == 0 {
		c.BackendTimeoutMs = 30000
	}
	if c.SoundsDir == "" {
		c.SoundsDir = "./sounds"
	}
	if c.DevicesFile == "" {
		c.DevicesFile = "./configs/devices.yaml"
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = 20
	}
	if c.UtteranceTimeoutMs == 0 {
		c.UtteranceTimeoutMs = 30000
	}
	if c.CallbackDelayMs == 0 {
		c.CallbackDelayMs = 2000
	}
	if c.SIPDefaultUser == "" {
		c.SIPDefaultUser = os.Getenv("SIP_DEFAULT_USER")
	}
	if c.SIPDefaultPass == "" {
		c.SIPDefaultPass = os.Getenv("SIP_DEFAULT_PASS")
	}
}
