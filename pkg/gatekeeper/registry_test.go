package gatekeeper

import (
	"net"
	"testing"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signalAddr(port uint16) h225.TransportAddress {
	return h225.TransportAddress{IP: net.IPv4(127, 0, 0, 1).To4(), Port: port}
}

func digits(values ...string) []h225.AliasAddress {
	out := make([]h225.AliasAddress, len(values))
	for i, v := range values {
		out[i] = h225.NewDialedDigits(v)
	}
	return out
}

func TestRegistryAliasUniqueness(t *testing.T) {
	tests := []struct {
		name            string
		allowDuplicates bool
		wantErr         error
	}{
		{"дубликаты запрещены", false, errDuplicateAlias},
		{"дубликаты разрешены", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEndpointRegistry(tt.allowDuplicates, 0, 0)

			a := newRegisteredEndpoint("a")
			_, err := r.register(a, registration{aliases: digits("1000", "1001"), signalAddrs: []h225.TransportAddress{signalAddr(1720)}})
			require.NoError(t, err)

			b := newRegisteredEndpoint("b")
			dups, err := r.register(b, registration{aliases: digits("1001", "2000"), signalAddrs: []h225.TransportAddress{signalAddr(1721)}})
			assert.Equal(t, tt.wantErr, err)
			if tt.wantErr != nil {
				assert.Equal(t, digits("1001"), dups)
				assert.Equal(t, 1, r.len())
				assert.Nil(t, r.findByAlias(h225.NewDialedDigits("2000")))
				return
			}
			assert.Equal(t, 2, r.len())
		})
	}
}

func TestRegistryReRegisterReindexes(t *testing.T) {
	r := newEndpointRegistry(false, 0, 0)
	e := newRegisteredEndpoint("a")
	_, err := r.register(e, registration{aliases: digits("1000"), signalAddrs: []h225.TransportAddress{signalAddr(1720)}})
	require.NoError(t, err)

	// та же точка может повторить свои алиасы
	_, err = r.register(e, registration{aliases: digits("1000", "1002"), signalAddrs: []h225.TransportAddress{signalAddr(1730)}})
	require.NoError(t, err)

	assert.Nil(t, r.findBySignal(signalAddr(1720)))
	found := r.findBySignal(signalAddr(1730))
	require.NotNil(t, found)
	r.release(found)
	assert.Same(t, e, found)
	assert.NotNil(t, r.findByAlias(h225.NewDialedDigits("1002")))

	// без алиасов в запросе сохраняются прежние
	aliases, err := r.register(e, registration{signalAddrs: []h225.TransportAddress{signalAddr(1730)}})
	require.NoError(t, err)
	assert.Equal(t, digits("1000", "1002"), aliases)
}

func TestRegistryAliasPool(t *testing.T) {
	r := newEndpointRegistry(false, 10000001, 10000003)

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		e := newRegisteredEndpoint(string(rune('a' + i)))
		aliases, err := r.register(e, registration{signalAddrs: []h225.TransportAddress{signalAddr(uint16(2000 + i))}})
		require.NoError(t, err)
		require.Len(t, aliases, 1)
		assert.False(t, seen[aliases[0].Value], "номер %s выдан дважды", aliases[0].Value)
		seen[aliases[0].Value] = true
	}

	_, err := r.register(newRegisteredEndpoint("d"), registration{signalAddrs: []h225.TransportAddress{signalAddr(2010)}})
	assert.Equal(t, errPoolExhausted, err)

	// номер освобожденной точки выдается снова
	first := r.findByAlias(h225.NewDialedDigits("10000001"))
	require.NotNil(t, first)
	r.release(first)
	require.True(t, r.remove(first))
	aliases, err := r.register(newRegisteredEndpoint("e"), registration{signalAddrs: []h225.TransportAddress{signalAddr(2011)}})
	require.NoError(t, err)
	assert.Equal(t, "10000001", aliases[0].Value)
}

func TestRegistryRemoveAndReap(t *testing.T) {
	r := newEndpointRegistry(false, 0, 0)
	e := newRegisteredEndpoint("a")
	_, err := r.register(e, registration{aliases: digits("1000"), signalAddrs: []h225.TransportAddress{signalAddr(1720)}})
	require.NoError(t, err)

	held := r.findByID("a")
	require.NotNil(t, held)

	assert.True(t, r.remove(e))
	assert.False(t, r.remove(e), "повторное удаление")
	assert.Nil(t, r.findByID("a"))
	assert.Nil(t, r.findByAlias(h225.NewDialedDigits("1000")))

	// объект с живой ссылкой остается в списке удаленных
	assert.Equal(t, 0, r.reap())
	r.release(held)
	assert.Equal(t, 1, r.reap())
	assert.Equal(t, 0, r.reap())
}

func TestRegistryLookup(t *testing.T) {
	r := newEndpointRegistry(false, 0, 0)
	gw := newRegisteredEndpoint("gw")
	_, err := r.register(gw, registration{aliases: digits("gateway"), signalAddrs: []h225.TransportAddress{signalAddr(1720)}, prefixes: []string{"8495"}})
	require.NoError(t, err)
	ep := newRegisteredEndpoint("ep")
	_, err = r.register(ep, registration{aliases: digits("12345"), signalAddrs: []h225.TransportAddress{signalAddr(1721)}})
	require.NoError(t, err)

	found := r.findByPrefix("84951234567")
	require.NotNil(t, found)
	assert.Same(t, gw, found)
	r.release(found)
	assert.Nil(t, r.findByPrefix("8812"))

	tests := []struct {
		name   string
		digits string
		want   bool
	}{
		{"начало номера", "123", true},
		{"полный номер", "12345", false},
		{"другой номер", "999", false},
		{"пустая строка", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.partialMatch(tt.digits))
		})
	}
}

func TestCallRegistryRemoveOnce(t *testing.T) {
	r := newCallRegistry()
	key := callKey{id: h225.NewGUID()}
	c, created, err := r.acquireOrCreate(key, func() (*Call, error) { return &Call{}, nil })
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := r.acquireOrCreate(key, func() (*Call, error) { return &Call{}, nil })
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, c, again)
	r.release(again)

	now := time.Now()
	assert.True(t, r.remove(c, now))
	assert.False(t, r.remove(c, now))
	assert.Nil(t, r.acquire(key))
	assert.Equal(t, 0, r.reap())
	r.release(c)
	assert.Equal(t, 1, r.reap())
}
