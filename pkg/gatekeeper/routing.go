package gatekeeper

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/ras"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const defaultSignalPort = 1720

// errNoRoute адрес назначения не найден
var errNoRoute = errors.New("no route to destination")

// route результат разрешения адреса назначения
type route struct {
	address  h225.TransportAddress
	aliases  []h225.AliasAddress
	endpoint *RegisteredEndpoint
}

// resolve определяет адрес сигнализации по алиасам: реестр и статическая
// таблица, затем алиас как доменное имя, затем LRQ соседям.
// Найденная точка возвращается с увеличенным счетчиком ссылок.
func (s *Server) resolve(ctx context.Context, aliases []h225.AliasAddress) (route, error) {
	if r, ok := s.resolveLocal(aliases); ok {
		return r, nil
	}
	if s.dns != nil {
		for _, a := range aliases {
			host := aliasHost(a)
			if host == "" {
				continue
			}
			addr, err := s.dns.lookup(ctx, host)
			if err != nil {
				s.logger.Debug("Server.resolve", slog.String("host", host), slog.String("error", err.Error()))
				continue
			}
			return route{address: addr, aliases: []h225.AliasAddress{a}}, nil
		}
	}
	if len(s.neighbours) > 0 {
		if addr, ok := s.locateNeighbours(ctx, aliases); ok {
			return route{address: addr, aliases: aliases}, nil
		}
	}
	return route{}, errNoRoute
}

// resolveLocal ищет назначение среди зарегистрированных точек и статических маршрутов
func (s *Server) resolveLocal(aliases []h225.AliasAddress) (route, bool) {
	for _, a := range aliases {
		if a.Kind == h225.AliasTransport && !a.Transport.IsZero() {
			e := s.endpoints.findBySignal(a.Transport)
			return route{address: a.Transport, aliases: []h225.AliasAddress{a}, endpoint: e}, true
		}
		if e := s.endpoints.findByAlias(a); e != nil {
			if addr, ok := e.signalAddress(); ok {
				return route{address: addr, aliases: []h225.AliasAddress{a}, endpoint: e}, true
			}
			s.endpoints.release(e)
		}
		if target, ok := s.cfg.Routes[a.Value]; ok {
			addr, err := h225.ParseTransportAddress(target, defaultSignalPort)
			if err == nil {
				return route{address: addr, aliases: []h225.AliasAddress{a}}, true
			}
			s.logger.Warn("Server.resolveLocal", slog.String("route", target), slog.String("error", err.Error()))
		}
	}
	for _, a := range aliases {
		if a.Kind != h225.AliasDialedDigits {
			continue
		}
		if e := s.endpoints.findByPrefix(a.Value); e != nil {
			if addr, ok := e.signalAddress(); ok {
				return route{address: addr, aliases: []h225.AliasAddress{a}, endpoint: e}, true
			}
			s.endpoints.release(e)
		}
	}
	return route{}, false
}

// aliasHost доменная часть алиаса, пригодная для DNS
func aliasHost(a h225.AliasAddress) string {
	var v string
	switch a.Kind {
	case h225.AliasURL:
		v = strings.TrimPrefix(a.Value, "h323:")
		if i := strings.Index(v, "://"); i >= 0 {
			v = v[i+3:]
		}
	case h225.AliasEmail, h225.AliasH323ID:
		v = a.Value
	default:
		return ""
	}
	if i := strings.LastIndex(v, "@"); i >= 0 {
		v = v[i+1:]
	}
	if i := strings.IndexAny(v, "/;"); i >= 0 {
		v = v[:i]
	}
	if !strings.Contains(v, ".") || strings.ContainsAny(v, " \t") {
		return ""
	}
	return v
}

// dnsResolver разрешение алиасов через SRV _h323cs._tcp и A записи
type dnsResolver struct {
	client *dns.Client
	server string
}

func newDNSResolver(server string, timeout time.Duration) (*dnsResolver, error) {
	if server == "" {
		cc, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, errors.Wrap(err, "read resolv.conf")
		}
		if len(cc.Servers) == 0 {
			return nil, errors.New("no DNS servers configured")
		}
		server = net.JoinHostPort(cc.Servers[0], cc.Port)
	}
	return &dnsResolver{client: &dns.Client{Timeout: timeout}, server: server}, nil
}

func (r *dnsResolver) lookup(ctx context.Context, host string) (h225.TransportAddress, error) {
	if ta, err := h225.ParseTransportAddress(host, defaultSignalPort); err == nil {
		return ta, nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("_h323cs._tcp."+host), dns.TypeSRV)
	if in, _, err := r.client.ExchangeContext(ctx, m, r.server); err == nil && in.Rcode == dns.RcodeSuccess {
		var srvs []*dns.SRV
		for _, rr := range in.Answer {
			if srv, ok := rr.(*dns.SRV); ok {
				srvs = append(srvs, srv)
			}
		}
		sort.Slice(srvs, func(i, j int) bool {
			if srvs[i].Priority != srvs[j].Priority {
				return srvs[i].Priority < srvs[j].Priority
			}
			return srvs[i].Weight > srvs[j].Weight
		})
		for _, srv := range srvs {
			if ip := glueAddress(in, srv.Target); ip != nil {
				return h225.TransportAddress{IP: ip, Port: srv.Port}, nil
			}
			if ip, err := r.lookupA(ctx, srv.Target); err == nil {
				return h225.TransportAddress{IP: ip, Port: srv.Port}, nil
			}
		}
	}

	ip, err := r.lookupA(ctx, host)
	if err != nil {
		return h225.TransportAddress{}, err
	}
	return h225.TransportAddress{IP: ip, Port: defaultSignalPort}, nil
}

func (r *dnsResolver) lookupA(ctx context.Context, host string) (net.IP, error) {
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		in, _, err := r.client.ExchangeContext(ctx, m, r.server)
		if err != nil {
			return nil, errors.Wrapf(err, "query %s", host)
		}
		for _, rr := range in.Answer {
			switch v := rr.(type) {
			case *dns.A:
				return v.A.To4(), nil
			case *dns.AAAA:
				return v.AAAA, nil
			}
		}
	}
	return nil, errors.Wrapf(errNoRoute, "no address for %s", host)
}

// glueAddress адрес цели SRV из дополнительной секции ответа
func glueAddress(in *dns.Msg, target string) net.IP {
	for _, rr := range in.Extra {
		if a, ok := rr.(*dns.A); ok && strings.EqualFold(a.Hdr.Name, target) {
			return a.A.To4()
		}
	}
	return nil
}

// locateNeighbours параллельно опрашивает соседние гейткиперы, первый LCF
// завершает поиск
func (s *Server) locateNeighbours(ctx context.Context, aliases []h225.AliasAddress) (h225.TransportAddress, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LocateTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu     sync.Mutex
		result h225.TransportAddress
		found  bool
	)
	for _, n := range s.neighbours {
		g.Go(func() error {
			lrq := &ras.LRQ{
				DestinationInfo: aliases,
				ReplyAddress:    h225.TransportAddressFromNet(s.sock.LocalAddr()),
				GatekeeperID:    s.cfg.ID,
				CanMapAlias:     true,
			}
			reply, err := s.request(gctx, lrq, n, s.cfg.LocateTimeout)
			if err != nil {
				s.logger.Debug("Server.locateNeighbours", slog.String("neighbour", n.String()), slog.String("error", err.Error()))
				return nil
			}
			lcf, ok := reply.(*ras.LCF)
			if !ok {
				return nil
			}
			mu.Lock()
			if !found {
				result, found = lcf.CallSignalAddress, true
			}
			mu.Unlock()
			cancel()
			return nil
		})
	}
	_ = g.Wait()
	return result, found
}
