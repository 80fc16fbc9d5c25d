package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arzzra/h323/pkg/gatekeeper"
	"github.com/arzzra/h323/pkg/gkclient"
	"github.com/arzzra/h323/pkg/h225"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*gatekeeper.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := gatekeeper.DefaultConfig()
	cfg.ID = "GK"
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.InfoResponseTimeout = time.Second
	cfg.Registerer = reg
	s, err := gatekeeper.New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })
	return s, reg
}

func newClient(t *testing.T, s *gatekeeper.Server, alias string, port int) *gkclient.Client {
	t.Helper()
	cfg := gkclient.DefaultConfig()
	cfg.GatekeeperAddress = s.Addr().String()
	cfg.LocalAddress = "127.0.0.1:0"
	cfg.Aliases = []string{alias}
	cfg.CallSignalAddresses = []h225.TransportAddress{
		h225.TransportAddressFromNet(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}),
	}
	cfg.RequestTimeout = time.Second
	c, err := gkclient.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Register(context.Background()))
	return c
}

func do(t *testing.T, h http.Handler, method, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestRouter(t *testing.T) {
	s, reg := newServer(t)
	a := newClient(t, s, "1000", 1721)
	b := newClient(t, s, "2000", 1722)
	r := NewRouter(s, Options{Gatherer: reg})

	var health map[string]string
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", &health))
	assert.Equal(t, "GK", health["gatekeeper_id"])

	var endpoints []EndpointView
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/endpoints", &endpoints))
	assert.Len(t, endpoints, 2)

	var ep EndpointView
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/endpoints/"+a.EndpointID(), &ep))
	assert.Equal(t, []string{"1000"}, ep.Aliases)
	assert.Equal(t, []string{"127.0.0.1:1721"}, ep.SignalAddresses)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/v1/endpoints/unknown", nil))

	callID := h225.NewGUID()
	_, err := a.Admit(context.Background(), gkclient.AdmissionRequest{
		CallID:             callID,
		ConferenceID:       h225.NewGUID(),
		CallReference:      1,
		DestinationAliases: []h225.AliasAddress{h225.NewDialedDigits("2000")},
		Bandwidth:          1280,
	})
	require.NoError(t, err)

	var calls []CallView
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/calls", &calls))
	require.Len(t, calls, 1)
	assert.Equal(t, callID.String(), calls[0].ID)
	assert.Equal(t, a.EndpointID(), calls[0].EndpointID)
	assert.Equal(t, "127.0.0.1:1722", calls[0].Destination)

	var bw BandwidthView
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/bandwidth", &bw))
	assert.Equal(t, uint32(1280), bw.Used)
	assert.Equal(t, bw.Total-bw.Used, bw.Available)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodDelete, "/api/v1/calls/not-a-guid", nil))
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/api/v1/calls/"+h225.NewGUID().String(), nil))
	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, "/api/v1/calls/"+callID.String(), nil))
	assert.Empty(t, s.Calls())
	assert.Zero(t, s.Bandwidth().Used())

	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, "/api/v1/endpoints/"+a.EndpointID(), nil))
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/v1/endpoints/"+a.EndpointID(), nil))
	assert.Len(t, s.Endpoints(), 1)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "h323_gatekeeper_registered_endpoints 1")

	require.NoError(t, b.Unregister(context.Background()))
}

func TestRouterWithoutMetrics(t *testing.T) {
	s, _ := newServer(t)
	r := NewRouter(s, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/metrics", nil))
}
