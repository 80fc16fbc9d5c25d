package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/arzzra/h323/internal/logging"
	"github.com/arzzra/h323/pkg/gkclient"
	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/h235"
	"github.com/arzzra/h323/pkg/h245"
	"github.com/arzzra/h323/pkg/h323"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

// Endpoint параметры конечной точки
type Endpoint struct {
	Aliases     []string `mapstructure:"aliases"`
	DisplayName string   `mapstructure:"display_name"`
	// Listen адрес приема вызовов, пустой отключает прием
	Listen string `mapstructure:"listen"`

	// Codecs имена форматов в порядке предпочтения
	Codecs []string `mapstructure:"codecs"`
	// MediaSDP файл SDP медиаподсистемы, заменяет Codecs
	MediaSDP string `mapstructure:"media_sdp"`

	FastStart       bool   `mapstructure:"fast_start"`
	H245Tunnelling  bool   `mapstructure:"h245_tunnelling"`
	ChannelConflict string `mapstructure:"channel_conflict"`

	MediaIP      string `mapstructure:"media_ip"`
	MediaPortMin uint16 `mapstructure:"media_port_min"`
	MediaPortMax uint16 `mapstructure:"media_port_max"`
	Bandwidth    uint32 `mapstructure:"bandwidth"`

	SignallingTimeout time.Duration `mapstructure:"signalling_timeout"`
	NoMediaTimeout    time.Duration `mapstructure:"no_media_timeout"`
	MaxCallDuration   time.Duration `mapstructure:"max_call_duration"`
	DSCP              int           `mapstructure:"dscp"`

	// Gatekeeper адрес RAS гейткипера, пустой работает без гейткипера
	Gatekeeper     string        `mapstructure:"gatekeeper"`
	GatekeeperID   string        `mapstructure:"gatekeeper_id"`
	TTL            time.Duration `mapstructure:"ttl"`
	Password       string        `mapstructure:"password"`
	AuthMechanisms []string      `mapstructure:"auth_mechanisms"`
}

// EndpointFile конфигурация командной конечной точки
type EndpointFile struct {
	Endpoint Endpoint       `mapstructure:"endpoint"`
	Logging  logging.Config `mapstructure:"logging"`
}

// EndpointFlags регистрирует флаги конечной точки
func EndpointFlags(fs *pflag.FlagSet) {
	addCommonFlags(fs)
	fs.StringSlice("alias", nil, "endpoint alias (repeatable)")
	fs.String("listen", "", "signalling listen address")
	fs.String("gatekeeper", "", "gatekeeper RAS address")
	fs.StringSlice("codec", nil, "codec name in preference order (repeatable)")
	fs.String("media-sdp", "", "SDP file describing media capabilities")
	fs.Bool("no-fast-start", false, "disable fast connect")
	fs.Bool("no-tunnelling", false, "disable H.245 tunnelling")
}

var endpointBindings = append([]flagBinding{
	{"alias", "endpoint.aliases"},
	{"listen", "endpoint.listen"},
	{"gatekeeper", "endpoint.gatekeeper"},
	{"codec", "endpoint.codecs"},
	{"media-sdp", "endpoint.media_sdp"},
}, commonBindings...)

// LoadEndpoint собирает конфигурацию конечной точки
func LoadEndpoint(fs *pflag.FlagSet) (*EndpointFile, error) {
	v := newViper()
	d := h323.DefaultConfig()
	v.SetDefault("endpoint.aliases", []string{})
	v.SetDefault("endpoint.display_name", "")
	v.SetDefault("endpoint.listen", ":1720")
	v.SetDefault("endpoint.codecs", []string{"PCMU", "PCMA", "G729", "telephone-event"})
	v.SetDefault("endpoint.media_sdp", "")
	v.SetDefault("endpoint.fast_start", d.FastStart)
	v.SetDefault("endpoint.h245_tunnelling", d.H245Tunnelling)
	v.SetDefault("endpoint.channel_conflict", d.ChannelConflictPolicy.String())
	v.SetDefault("endpoint.media_ip", "")
	v.SetDefault("endpoint.media_port_min", d.MediaPortMin)
	v.SetDefault("endpoint.media_port_max", d.MediaPortMax)
	v.SetDefault("endpoint.bandwidth", d.Bandwidth)
	v.SetDefault("endpoint.signalling_timeout", d.SignallingTimeout)
	v.SetDefault("endpoint.no_media_timeout", d.NoMediaTimeout)
	v.SetDefault("endpoint.max_call_duration", d.MaxCallDuration)
	v.SetDefault("endpoint.dscp", d.Transport.DSCP)
	v.SetDefault("endpoint.gatekeeper", "")
	v.SetDefault("endpoint.gatekeeper_id", "")
	v.SetDefault("endpoint.ttl", gkclient.DefaultConfig().TimeToLive)
	v.SetDefault("endpoint.password", "")
	v.SetDefault("endpoint.auth_mechanisms", []string{})
	setLoggingDefaults(v)

	var cfg EndpointFile
	if err := load(v, fs, endpointBindings, &cfg); err != nil {
		return nil, err
	}
	// отрицательные флаги переопределяют файл
	if off, _ := fs.GetBool("no-fast-start"); off {
		cfg.Endpoint.FastStart = false
	}
	if off, _ := fs.GetBool("no-tunnelling"); off {
		cfg.Endpoint.H245Tunnelling = false
	}
	return &cfg, nil
}

// ParseCodec возвращает возможность по имени формата
func ParseCodec(name string) (h245.Capability, error) {
	switch strings.ToUpper(name) {
	case "PCMU", "G711U":
		return h245.Audio(h245.FormatPCMU), nil
	case "PCMA", "G711A":
		return h245.Audio(h245.FormatPCMA), nil
	case "G722":
		return h245.Audio(h245.FormatG722), nil
	case "G729":
		return h245.Audio(h245.FormatG729), nil
	case "GSM":
		return h245.Audio(h245.FormatGSM), nil
	case "H261":
		return h245.Video(h245.FormatH261), nil
	case "H263":
		return h245.Video(h245.FormatH263), nil
	case "H264":
		return h245.Video(h245.FormatH264), nil
	case "TELEPHONE-EVENT", "DTMF":
		return h245.UserInput(), nil
	}
	return h245.Capability{}, fmt.Errorf("неизвестный кодек %q", name)
}

// Capabilities локальные возможности из SDP файла или списка кодеков
func (e *Endpoint) Capabilities() ([]h245.Capability, error) {
	if e.MediaSDP != "" {
		raw, err := os.ReadFile(e.MediaSDP)
		if err != nil {
			return nil, errors.Wrap(err, "read media sdp")
		}
		return h245.CapabilitiesFromSDP(raw)
	}
	caps := make([]h245.Capability, 0, len(e.Codecs))
	for _, name := range e.Codecs {
		c, err := ParseCodec(name)
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, nil
}

// EndpointConfig преобразует параметры в конфигурацию h323.Endpoint.
// Gatekeeper, AnswerFunc и EventHandler заполняет вызывающий.
func (e *Endpoint) EndpointConfig(logger *slog.Logger, reg prometheus.Registerer) (h323.Config, error) {
	cfg := h323.DefaultConfig()
	cfg.Aliases = e.Aliases
	cfg.DisplayName = e.DisplayName
	cfg.FastStart = e.FastStart
	cfg.H245Tunnelling = e.H245Tunnelling
	cfg.MediaPortMin = e.MediaPortMin
	cfg.MediaPortMax = e.MediaPortMax
	cfg.Bandwidth = e.Bandwidth
	cfg.SignallingTimeout = e.SignallingTimeout
	cfg.NoMediaTimeout = e.NoMediaTimeout
	cfg.MaxCallDuration = e.MaxCallDuration
	cfg.Transport.DSCP = e.DSCP
	cfg.Logger = logger
	cfg.Registerer = reg

	policy, err := h323.ParseChannelConflictPolicy(e.ChannelConflict)
	if err != nil {
		return cfg, err
	}
	cfg.ChannelConflictPolicy = policy

	if e.MediaIP != "" {
		ip := net.ParseIP(e.MediaIP)
		if ip == nil {
			return cfg, fmt.Errorf("некорректный адрес медиа %q", e.MediaIP)
		}
		cfg.MediaIP = ip
	}

	caps, err := e.Capabilities()
	if err != nil {
		return cfg, err
	}
	if len(caps) == 0 {
		return cfg, fmt.Errorf("не задано ни одного кодека")
	}
	cfg.Capabilities = caps
	return cfg, cfg.Validate()
}

// ClientConfig конфигурация RAS клиента. signal адреса сигнализации точки.
func (e *Endpoint) ClientConfig(logger *slog.Logger, signal []h225.TransportAddress) (gkclient.Config, error) {
	cfg := gkclient.DefaultConfig()
	cfg.GatekeeperAddress = e.Gatekeeper
	cfg.GatekeeperID = e.GatekeeperID
	cfg.Aliases = e.Aliases
	cfg.CallSignalAddresses = signal
	cfg.TimeToLive = e.TTL
	cfg.Transport.DSCP = e.DSCP
	cfg.Logger = logger

	if e.Password != "" {
		mechs := e.AuthMechanisms
		if len(mechs) == 0 {
			mechs = []string{h235.MechanismPasswordHash}
		}
		set, err := h235.NewSet(h235.Config{Mechanisms: mechs})
		if err != nil {
			return cfg, errors.Wrap(err, "h235")
		}
		sender := ""
		if len(e.Aliases) > 0 {
			sender = e.Aliases[0]
		}
		cfg.Auth = set
		cfg.Credentials = h235.Credentials{SenderID: sender, Password: e.Password}
	}
	return cfg, cfg.Validate()
}
