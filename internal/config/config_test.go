package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arzzra/h323/pkg/gatekeeper"
	"github.com/arzzra/h323/pkg/h245"
	"github.com/arzzra/h323/pkg/h323"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func gatekeeperFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("h323gk", pflag.ContinueOnError)
	GatekeeperFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadGatekeeperDefaults(t *testing.T) {
	cfg, err := LoadGatekeeper(gatekeeperFlagSet(t))
	require.NoError(t, err)

	d := gatekeeper.DefaultConfig()
	assert.Equal(t, d.ID, cfg.Gatekeeper.ID)
	assert.Equal(t, d.ListenAddress, cfg.Gatekeeper.Listen)
	assert.Equal(t, d.DefaultTTL, cfg.Gatekeeper.DefaultTTL)
	assert.Equal(t, d.TotalBandwidth, cfg.Gatekeeper.TotalBandwidth)
	assert.Equal(t, d.RequestInProgressDelay, cfg.Gatekeeper.RequestInProgressDelay)
	assert.Equal(t, "release", cfg.HTTP.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)

	sc, err := cfg.Gatekeeper.ServerConfig(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, sc.Auth)
	assert.Nil(t, sc.Policy)
}

func TestLoadGatekeeperFileEnvFlags(t *testing.T) {
	path := writeFile(t, "gk.yaml", `
gatekeeper:
  id: ZONE-A
  listen: 127.0.0.1:1719
  default_ttl: 120s
  irr_frequency: 30s
  routes:
    "5000": 10.0.0.5:1720
  neighbours: ["10.0.0.9:1719"]
  deny_prefixes: ["900"]
  allowed_networks: [10.0.0.0/8]
  auth_mechanisms: [pwdHash]
  passwords:
    alice: secret
logging:
  format: json
`)
	t.Setenv("H323_GATEKEEPER_MAX_TTL", "10m")
	fs := gatekeeperFlagSet(t, "--config", path, "--id", "ZONE-B", "--total-bandwidth", "5000")

	cfg, err := LoadGatekeeper(fs)
	require.NoError(t, err)

	g := cfg.Gatekeeper
	assert.Equal(t, "ZONE-B", g.ID, "флаг важнее файла")
	assert.Equal(t, "127.0.0.1:1719", g.Listen)
	assert.Equal(t, 120*time.Second, g.DefaultTTL)
	assert.Equal(t, 10*time.Minute, g.MaxTTL, "значение из окружения")
	assert.Equal(t, uint32(5000), g.TotalBandwidth)
	assert.Equal(t, map[string]string{"5000": "10.0.0.5:1720"}, g.Routes)
	assert.Equal(t, []string{"10.0.0.9:1719"}, g.Neighbours)
	assert.Equal(t, "json", cfg.Logging.Format)

	sc, err := g.ServerConfig(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, sc.IRRFrequency)
	require.NotNil(t, sc.Auth)
	assert.Equal(t, []string{"pwdHash"}, sc.Auth.Mechanisms())
	policy, ok := sc.Policy.(gatekeeper.PrefixPolicy)
	require.True(t, ok)
	assert.Equal(t, []string{"900"}, policy.DenyPrefixes)
	require.Len(t, policy.AllowedNetworks, 1)
	assert.Equal(t, "10.0.0.0/8", policy.AllowedNetworks[0].String())
}

func TestGatekeeperServerConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Gatekeeper)
	}{
		{"некорректная сеть", func(g *Gatekeeper) { g.AllowedNetworks = []string{"10.0.0.0"} }},
		{"неизвестный механизм", func(g *Gatekeeper) { g.AuthMechanisms = []string{"md5"} }},
		{"пустой идентификатор", func(g *Gatekeeper) { g.ID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadGatekeeper(gatekeeperFlagSet(t))
			require.NoError(t, err)
			tt.modify(&cfg.Gatekeeper)
			_, err = cfg.Gatekeeper.ServerConfig(nil, nil)
			assert.Error(t, err)
		})
	}
}

func endpointFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("h323call", pflag.ContinueOnError)
	EndpointFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadEndpoint(t *testing.T) {
	fs := endpointFlagSet(t, "--alias", "1000", "--alias", "alice", "--codec", "pcma", "--no-fast-start", "--gatekeeper", "127.0.0.1:1719")

	cfg, err := LoadEndpoint(fs)
	require.NoError(t, err)

	e := cfg.Endpoint
	assert.Equal(t, []string{"1000", "alice"}, e.Aliases)
	assert.Equal(t, []string{"pcma"}, e.Codecs)
	assert.False(t, e.FastStart)
	assert.True(t, e.H245Tunnelling)
	assert.Equal(t, ":1720", e.Listen)

	ec, err := e.EndpointConfig(nil, nil)
	require.NoError(t, err)
	require.Len(t, ec.Capabilities, 1)
	assert.Equal(t, "PCMA", ec.Capabilities[0].Format.Name)
	assert.Equal(t, h323.ConflictStrict, ec.ChannelConflictPolicy)

	cc, err := e.ClientConfig(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1719", cc.GatekeeperAddress)
	assert.Nil(t, cc.Auth)
}

func TestEndpointCapabilitiesFromSDP(t *testing.T) {
	path := writeFile(t, "media.sdp", "v=0\r\n"+
		"o=- 1 1 IN IP4 127.0.0.1\r\n"+
		"s=-\r\n"+
		"c=IN IP4 127.0.0.1\r\n"+
		"t=0 0\r\n"+
		"m=audio 4000 RTP/AVP 8 0\r\n")

	e := Endpoint{MediaSDP: path, Codecs: []string{"G729"}}
	caps, err := e.Capabilities()
	require.NoError(t, err)
	require.Len(t, caps, 2)
	assert.Equal(t, h245.FormatPCMA.Name, caps[0].Format.Name)
	assert.Equal(t, h245.FormatPCMU.Name, caps[1].Format.Name)
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		kind    h245.Kind
		wantErr bool
	}{
		{"G.711 мю-закон", "PCMU", h245.KindAudio, false},
		{"синоним", "g711a", h245.KindAudio, false},
		{"видео", "H264", h245.KindVideo, false},
		{"DTMF", "telephone-event", h245.KindUserInput, false},
		{"неизвестный", "opus", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseCodec(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, c.Kind)
		})
	}
}

func TestEndpointConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Endpoint)
	}{
		{"неизвестная политика", func(e *Endpoint) { e.ChannelConflict = "random" }},
		{"некорректный адрес медиа", func(e *Endpoint) { e.MediaIP = "not-an-ip" }},
		{"нет кодеков", func(e *Endpoint) { e.Codecs = nil }},
		{"неизвестный кодек", func(e *Endpoint) { e.Codecs = []string{"opus"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadEndpoint(endpointFlagSet(t))
			require.NoError(t, err)
			tt.modify(&cfg.Endpoint)
			_, err = cfg.Endpoint.EndpointConfig(nil, nil)
			assert.Error(t, err)
		})
	}
}
