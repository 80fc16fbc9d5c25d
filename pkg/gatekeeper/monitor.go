package gatekeeper

import (
	"context"
	"log/slog"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/ras"
	"golang.org/x/sync/errgroup"
)

// maxProbes ограничение одновременных IRQ монитора
const maxProbes = 16

// monitor периодически проверяет живость точек и вызовов и освобождает
// удаленные объекты реестров
func (s *Server) monitor(ctx context.Context) {
	ticker := s.clock.Ticker(s.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep один проход монитора: точка без RRQ или IRR дольше TTL и вызов
// без IRR дольше периода получают IRQ, при отсутствии ответа удаляются
func (s *Server) sweep(ctx context.Context) {
	now := s.clock.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxProbes)

	for _, e := range s.endpoints.all() {
		if !e.expired(now) {
			continue
		}
		e := s.endpoints.acquire(e)
		g.Go(func() error {
			defer s.endpoints.release(e)
			if s.probe(gctx, e, h225.GUID{}) {
				return nil
			}
			s.metrics.expired.WithLabelValues("endpoint").Inc()
			s.removeEndpoint(e, EventExpired, ras.URQTTLExpired.String())
			return nil
		})
	}

	if s.cfg.IRRFrequency > 0 {
		for _, c := range s.calls.all() {
			if !c.silent(now, s.cfg.IRRFrequency) {
				continue
			}
			c.refs.Add(1)
			g.Go(func() error {
				defer s.calls.release(c)
				if s.probe(gctx, c.endpoint, c.key.id) {
					return nil
				}
				s.metrics.expired.WithLabelValues("call").Inc()
				if s.cfg.DisengageOnTimeout {
					if err := s.sendDRQ(gctx, c, ras.DisengageForcedDrop); err != nil {
						s.logger.Debug("Server.sweep", slog.String("call_id", c.key.id.String()), slog.String("error", err.Error()))
					}
				}
				if s.removeCall(c) {
					s.logger.Info("Server.sweep", slog.String("call_id", c.key.id.String()), slog.String("result", "no IRR, removed"))
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	if n := s.endpoints.reap() + s.calls.reap(); n > 0 {
		s.logger.Debug("Server.sweep", slog.Int("reaped", n))
	}
	s.metrics.endpoints.Set(float64(s.endpoints.len()))
	s.metrics.calls.Set(float64(s.calls.len()))
}

// probe отправляет IRQ и ждет IRR не дольше InfoResponseTimeout.
// Нулевой callID запрашивает сведения обо всех вызовах точки.
func (s *Server) probe(ctx context.Context, e *RegisteredEndpoint, callID h225.GUID) bool {
	addr, ok := e.rasAddress()
	if !ok {
		return false
	}
	irq := &ras.IRQ{CallIdentifier: callID}
	reply, err := s.request(ctx, irq, addr.UDPAddr(), s.cfg.InfoResponseTimeout)
	if err != nil {
		s.logger.Debug("Server.probe", slog.String("endpoint_id", e.id), slog.String("error", err.Error()))
		return false
	}
	if _, ok := reply.(*ras.IRR); !ok {
		return false
	}
	// время активности обновлено обработкой IRR
	return true
}
