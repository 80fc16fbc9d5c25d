package config

import (
	"log/slog"
	"net"
	"time"

	"github.com/arzzra/h323/internal/logging"
	"github.com/arzzra/h323/pkg/gatekeeper"
	"github.com/arzzra/h323/pkg/h235"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

// Gatekeeper параметры RAS сервера
type Gatekeeper struct {
	ID     string `mapstructure:"id"`
	Listen string `mapstructure:"listen"`

	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxTTL     time.Duration `mapstructure:"max_ttl"`

	AllowDuplicateAliases bool   `mapstructure:"allow_duplicate_aliases"`
	AliasPoolStart        uint64 `mapstructure:"alias_pool_start"`
	AliasPoolEnd          uint64 `mapstructure:"alias_pool_end"`

	TotalBandwidth       uint32 `mapstructure:"total_bandwidth"`
	DefaultCallBandwidth uint32 `mapstructure:"default_call_bandwidth"`
	MaxCallBandwidth     uint32 `mapstructure:"max_call_bandwidth"`

	IRRFrequency        time.Duration `mapstructure:"irr_frequency"`
	InfoResponseTimeout time.Duration `mapstructure:"info_response_timeout"`
	MonitorInterval     time.Duration `mapstructure:"monitor_interval"`
	DisengageOnTimeout  bool          `mapstructure:"disengage_on_timeout"`

	Routes          map[string]string `mapstructure:"routes"`
	AliasAsHostname bool              `mapstructure:"alias_as_hostname"`
	DNSServer       string            `mapstructure:"dns_server"`
	Neighbours      []string          `mapstructure:"neighbours"`
	LocateTimeout   time.Duration     `mapstructure:"locate_timeout"`

	DenyPrefixes    []string `mapstructure:"deny_prefixes"`
	AllowedNetworks []string `mapstructure:"allowed_networks"`

	AuthMechanisms []string          `mapstructure:"auth_mechanisms"`
	Passwords      map[string]string `mapstructure:"passwords"`

	MaxConcurrentRequests  int64         `mapstructure:"max_concurrent_requests"`
	ReplyCacheSize         int           `mapstructure:"reply_cache_size"`
	RequestInProgressDelay time.Duration `mapstructure:"request_in_progress_delay"`
	DSCP                   int           `mapstructure:"dscp"`
}

// HTTP параметры административного API
type HTTP struct {
	// Listen адрес HTTP сервера, пустой отключает API
	Listen string `mapstructure:"listen"`
	// Mode режим gin: release или debug
	Mode string `mapstructure:"mode"`
}

// GatekeeperFile конфигурация демона гейткипера
type GatekeeperFile struct {
	Gatekeeper Gatekeeper     `mapstructure:"gatekeeper"`
	HTTP       HTTP           `mapstructure:"http"`
	Logging    logging.Config `mapstructure:"logging"`
}

// GatekeeperFlags регистрирует флаги демона гейткипера
func GatekeeperFlags(fs *pflag.FlagSet) {
	addCommonFlags(fs)
	fs.String("id", "", "gatekeeper identifier")
	fs.String("listen", "", "RAS listen address")
	fs.String("http", "", "admin HTTP listen address")
	fs.Uint32("total-bandwidth", 0, "zone bandwidth in 100 bit/s units")
	fs.StringSlice("neighbour", nil, "neighbour gatekeeper RAS address (repeatable)")
}

var gatekeeperBindings = append([]flagBinding{
	{"id", "gatekeeper.id"},
	{"listen", "gatekeeper.listen"},
	{"http", "http.listen"},
	{"total-bandwidth", "gatekeeper.total_bandwidth"},
	{"neighbour", "gatekeeper.neighbours"},
}, commonBindings...)

// LoadGatekeeper собирает конфигурацию гейткипера: значения по умолчанию,
// файл, окружение H323_*, флаги
func LoadGatekeeper(fs *pflag.FlagSet) (*GatekeeperFile, error) {
	v := newViper()
	d := gatekeeper.DefaultConfig()
	v.SetDefault("gatekeeper.id", d.ID)
	v.SetDefault("gatekeeper.listen", d.ListenAddress)
	v.SetDefault("gatekeeper.default_ttl", d.DefaultTTL)
	v.SetDefault("gatekeeper.max_ttl", d.MaxTTL)
	v.SetDefault("gatekeeper.allow_duplicate_aliases", d.AllowDuplicateAliases)
	v.SetDefault("gatekeeper.alias_pool_start", d.AliasPoolStart)
	v.SetDefault("gatekeeper.alias_pool_end", d.AliasPoolEnd)
	v.SetDefault("gatekeeper.total_bandwidth", d.TotalBandwidth)
	v.SetDefault("gatekeeper.default_call_bandwidth", d.DefaultCallBandwidth)
	v.SetDefault("gatekeeper.max_call_bandwidth", d.MaxCallBandwidth)
	v.SetDefault("gatekeeper.irr_frequency", d.IRRFrequency)
	v.SetDefault("gatekeeper.info_response_timeout", d.InfoResponseTimeout)
	v.SetDefault("gatekeeper.monitor_interval", d.MonitorInterval)
	v.SetDefault("gatekeeper.disengage_on_timeout", d.DisengageOnTimeout)
	v.SetDefault("gatekeeper.routes", map[string]string{})
	v.SetDefault("gatekeeper.alias_as_hostname", d.AliasAsHostname)
	v.SetDefault("gatekeeper.dns_server", d.DNSServer)
	v.SetDefault("gatekeeper.neighbours", []string{})
	v.SetDefault("gatekeeper.locate_timeout", d.LocateTimeout)
	v.SetDefault("gatekeeper.deny_prefixes", []string{})
	v.SetDefault("gatekeeper.allowed_networks", []string{})
	v.SetDefault("gatekeeper.auth_mechanisms", []string{})
	v.SetDefault("gatekeeper.passwords", map[string]string{})
	v.SetDefault("gatekeeper.max_concurrent_requests", d.MaxConcurrentRequests)
	v.SetDefault("gatekeeper.reply_cache_size", d.ReplyCacheSize)
	v.SetDefault("gatekeeper.request_in_progress_delay", d.RequestInProgressDelay)
	v.SetDefault("gatekeeper.dscp", d.Transport.DSCP)
	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.mode", "release")
	setLoggingDefaults(v)

	var cfg GatekeeperFile
	if err := load(v, fs, gatekeeperBindings, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ServerConfig преобразует параметры в конфигурацию gatekeeper.Server
func (g *Gatekeeper) ServerConfig(logger *slog.Logger, reg prometheus.Registerer) (gatekeeper.Config, error) {
	cfg := gatekeeper.DefaultConfig()
	cfg.ID = g.ID
	cfg.ListenAddress = g.Listen
	cfg.DefaultTTL = g.DefaultTTL
	cfg.MaxTTL = g.MaxTTL
	cfg.AllowDuplicateAliases = g.AllowDuplicateAliases
	cfg.AliasPoolStart = g.AliasPoolStart
	cfg.AliasPoolEnd = g.AliasPoolEnd
	cfg.TotalBandwidth = g.TotalBandwidth
	cfg.DefaultCallBandwidth = g.DefaultCallBandwidth
	cfg.MaxCallBandwidth = g.MaxCallBandwidth
	cfg.IRRFrequency = g.IRRFrequency
	cfg.InfoResponseTimeout = g.InfoResponseTimeout
	cfg.MonitorInterval = g.MonitorInterval
	cfg.DisengageOnTimeout = g.DisengageOnTimeout
	cfg.Routes = g.Routes
	cfg.AliasAsHostname = g.AliasAsHostname
	cfg.DNSServer = g.DNSServer
	cfg.Neighbours = g.Neighbours
	cfg.LocateTimeout = g.LocateTimeout
	cfg.Passwords = g.Passwords
	cfg.MaxConcurrentRequests = g.MaxConcurrentRequests
	cfg.ReplyCacheSize = g.ReplyCacheSize
	cfg.RequestInProgressDelay = g.RequestInProgressDelay
	cfg.Transport.DSCP = g.DSCP
	cfg.Logger = logger
	cfg.Registerer = reg

	if len(g.DenyPrefixes) > 0 || len(g.AllowedNetworks) > 0 {
		policy := gatekeeper.PrefixPolicy{DenyPrefixes: g.DenyPrefixes}
		for _, s := range g.AllowedNetworks {
			_, n, err := net.ParseCIDR(s)
			if err != nil {
				return cfg, errors.Wrapf(err, "allowed network %q", s)
			}
			policy.AllowedNetworks = append(policy.AllowedNetworks, n)
		}
		cfg.Policy = policy
	}

	if len(g.AuthMechanisms) > 0 {
		set, err := h235.NewSet(h235.Config{Mechanisms: g.AuthMechanisms})
		if err != nil {
			return cfg, errors.Wrap(err, "h235")
		}
		cfg.Auth = set
	}
	return cfg, cfg.Validate()
}
