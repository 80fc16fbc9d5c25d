package httpapi

import (
	"time"

	"github.com/arzzra/h323/pkg/gatekeeper"
	"github.com/arzzra/h323/pkg/h225"
)

// EndpointView зарегистрированная точка в ответе API
type EndpointView struct {
	ID              string    `json:"id"`
	Aliases         []string  `json:"aliases"`
	SignalAddresses []string  `json:"signal_addresses"`
	RASAddresses    []string  `json:"ras_addresses"`
	TTLSeconds      int64     `json:"ttl_seconds"`
	LastSeen        time.Time `json:"last_seen"`
	Calls           int       `json:"calls"`
}

// CallView допущенный вызов
type CallView struct {
	ID          string    `json:"id"`
	EndpointID  string    `json:"endpoint_id"`
	Answer      bool      `json:"answer"`
	Bandwidth   uint32    `json:"bandwidth"`
	Destination string    `json:"destination,omitempty"`
	Aliases     []string  `json:"destination_aliases,omitempty"`
	Started     time.Time `json:"started"`
}

// BandwidthView состояние пула полосы в единицах 100 бит/с
type BandwidthView struct {
	Total     uint32 `json:"total"`
	Used      uint32 `json:"used"`
	Available uint32 `json:"available"`
}

func endpointView(e *gatekeeper.RegisteredEndpoint) EndpointView {
	return EndpointView{
		ID:              e.ID(),
		Aliases:         h225.AliasStrings(e.Aliases()),
		SignalAddresses: addressStrings(e.SignalAddresses()),
		RASAddresses:    addressStrings(e.RASAddresses()),
		TTLSeconds:      int64(e.TTL() / time.Second),
		LastSeen:        e.LastSeen(),
		Calls:           e.CallCount(),
	}
}

func callView(c *gatekeeper.Call) CallView {
	v := CallView{
		ID:         c.ID().String(),
		EndpointID: c.EndpointID(),
		Answer:     c.IsAnswer(),
		Bandwidth:  c.Bandwidth(),
		Aliases:    h225.AliasStrings(c.DestinationAliases()),
		Started:    c.Started(),
	}
	if d := c.Destination(); !d.IsZero() {
		v.Destination = d.String()
	}
	return v
}

func addressStrings(list []h225.TransportAddress) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.String()
	}
	return out
}
