package gatekeeper

import (
	"net"
	"strings"

	"github.com/arzzra/h323/pkg/h225"
)

// CallRequest сведения о вызове для проверки политикой
type CallRequest struct {
	Endpoint           *RegisteredEndpoint
	Answer             bool
	SourceAliases      []h225.AliasAddress
	SourceAddress      *h225.TransportAddress
	DestinationAliases []h225.AliasAddress
	Destination        h225.TransportAddress
}

// Policy решает, допускается ли вызов
type Policy interface {
	AllowCall(req CallRequest) bool
}

// AllowAll допускает любые вызовы
type AllowAll struct{}

func (AllowAll) AllowCall(CallRequest) bool { return true }

// PrefixPolicy запрещает вызовы на номера с указанными префиксами и
// с адресов вне разрешенных сетей
type PrefixPolicy struct {
	DenyPrefixes []string
	// AllowedNetworks сети адресов сигнализации, пустой список не ограничивает
	AllowedNetworks []*net.IPNet
}

func (p PrefixPolicy) AllowCall(req CallRequest) bool {
	aliases := req.DestinationAliases
	if req.Answer {
		aliases = req.SourceAliases
	}
	for _, a := range aliases {
		if a.Kind != h225.AliasDialedDigits {
			continue
		}
		for _, prefix := range p.DenyPrefixes {
			if strings.HasPrefix(a.Value, prefix) {
				return false
			}
		}
	}

	addr := &req.Destination
	if req.Answer {
		addr = req.SourceAddress
	}
	if len(p.AllowedNetworks) == 0 || addr == nil || addr.IsZero() {
		return true
	}
	for _, n := range p.AllowedNetworks {
		if n.Contains(addr.IP) {
			return true
		}
	}
	return false
}
