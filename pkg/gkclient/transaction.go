package gkclient

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/ras"
	"github.com/pkg/errors"
)

// request отправляет запрос и ждет подтверждения или отказа.
// Запрос повторяется по таймауту, RIP продлевает ожидание без повтора.
func (c *Client) request(ctx context.Context, req ras.Message) (ras.Message, error) {
	seq := c.nextSeq()
	req.SetSeq(seq)
	data, err := ras.Encode(req)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", req.Type())
	}

	tr := &transaction{request: req.Type(), replies: make(chan ras.Message, 4)}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[seq] = tr
	gk := c.gkAddr
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	logger := c.logger.With(slog.String("request", req.Type().String()), slog.Int("seq", int(seq)))
	attempts := 0
	wait := c.cfg.RequestTimeout
	send := true

	for {
		if send {
			if err := c.sock.WriteTo(data, gk); err != nil {
				return nil, err
			}
			attempts++
			logger.Debug("Client.request", slog.Int("attempt", attempts))
		}

		timer := c.clock.Timer(wait)
		select {
		case reply, ok := <-tr.replies:
			timer.Stop()
			if !ok {
				return nil, ErrClosed
			}
			if rip, isRIP := reply.(*ras.RIP); isRIP {
				wait = time.Duration(rip.Delay) * time.Millisecond
				if wait < c.cfg.RequestTimeout {
					wait = c.cfg.RequestTimeout
				}
				send = false
				logger.Debug("Client.request", slog.Int("rip_delay_ms", int(rip.Delay)))
				continue
			}
			if isReject(reply.Type()) {
				logger.Info("Client.request", slog.String("reject", ras.RejectReason(reply)))
				return nil, &RejectError{Request: req.Type(), Reply: reply}
			}
			return reply, nil
		case <-timer.C:
			if attempts > c.cfg.MaxRetries {
				return nil, errors.Wrapf(ErrTimeout, "%s after %d attempts", req.Type(), attempts)
			}
			wait = c.cfg.RequestTimeout
			send = true
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func isReject(t ras.MessageType) bool {
	switch t {
	case ras.TypeGRJ, ras.TypeRRJ, ras.TypeURJ, ras.TypeARJ, ras.TypeBRJ,
		ras.TypeDRJ, ras.TypeLRJ, ras.TypeINAK, ras.TypeXRS:
		return true
	}
	return false
}

// handlePacket обрабатывает датаграмму из RAS сокета
func (c *Client) handlePacket(data []byte, from *net.UDPAddr) {
	msg, err := ras.Decode(data)
	if err != nil {
		c.logger.Debug("Client.handlePacket", slog.String("from", from.String()), slog.String("error", err.Error()))
		return
	}

	switch m := msg.(type) {
	case *ras.IRQ:
		c.answerIRQ(m, from)
	case *ras.URQ:
		c.answerURQ(m, from)
	case *ras.DRQ:
		c.answerDRQ(m, from)
	case *ras.BRQ:
		c.reply(&ras.BCF{Header: ras.Header{RequestSeqNum: m.RequestSeqNum}, BandWidth: m.BandWidth}, from)
	default:
		if msg.Type().IsRequest() {
			c.reply(&ras.XRS{Header: ras.Header{RequestSeqNum: msg.Seq()}}, from)
			return
		}
		if !c.deliver(msg) {
			c.logger.Debug("Client.handlePacket", slog.String("type", msg.Type().String()), slog.Int("seq", int(msg.Seq())), slog.String("result", "no transaction"))
		}
	}
}

// deliver передает ответ транзакции. Отправка под c.mu, поскольку Close
// закрывает каналы ответов под тем же мьютексом.
func (c *Client) deliver(msg ras.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr, ok := c.pending[msg.Seq()]
	if !ok {
		return false
	}
	select {
	case tr.replies <- msg:
	default:
	}
	return true
}

func (c *Client) reply(msg ras.Message, to *net.UDPAddr) {
	data, err := ras.Encode(msg)
	if err != nil {
		c.logger.Error("Client.reply", slog.String("type", msg.Type().String()), slog.String("error", err.Error()))
		return
	}
	if err := c.sock.WriteTo(data, to); err != nil {
		c.logger.Warn("Client.reply", slog.String("error", err.Error()))
	}
}

func (c *Client) answerIRQ(irq *ras.IRQ, from *net.UDPAddr) {
	c.mu.Lock()
	irr := &ras.IRR{
		Header:              ras.Header{RequestSeqNum: irq.RequestSeqNum},
		EndpointType:        c.cfg.EndpointType,
		EndpointIdentifier:  c.endpointID,
		RASAddress:          h225.TransportAddressFromNet(c.sock.LocalAddr()),
		CallSignalAddresses: c.cfg.CallSignalAddresses,
		EndpointAliases:     append([]h225.AliasAddress(nil), c.aliases...),
	}
	c.mu.Unlock()

	if c.cfg.CallInfo != nil {
		for _, info := range c.cfg.CallInfo() {
			if irq.CallIdentifier.IsZero() || info.CallIdentifier == irq.CallIdentifier {
				irr.PerCallInfo = append(irr.PerCallInfo, info)
			}
		}
	}
	irr.Tokens = c.tokens()

	to := from
	if irq.ReplyAddress != nil && !irq.ReplyAddress.IsZero() {
		to = irq.ReplyAddress.UDPAddr()
	}
	c.reply(irr, to)
	c.logger.Debug("Client.answerIRQ", slog.Int("seq", int(irq.RequestSeqNum)), slog.Int("calls", len(irr.PerCallInfo)))
}

func (c *Client) answerURQ(urq *ras.URQ, from *net.UDPAddr) {
	c.reply(&ras.UCF{Header: ras.Header{RequestSeqNum: urq.RequestSeqNum}}, from)

	c.mu.Lock()
	c.registered = false
	if c.keepAlive != nil {
		c.keepAlive.Stop()
		c.keepAlive = nil
	}
	closed := c.closed
	c.mu.Unlock()

	c.logger.Info("Client.answerURQ", slog.String("reason", urq.Reason.String()))
	if urq.HasReason && urq.Reason == ras.URQReregistrationRequired && !closed {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout*time.Duration(c.cfg.MaxRetries+1))
			defer cancel()
			if err := c.Register(ctx); err != nil {
				c.logger.Warn("Client.answerURQ", slog.String("error", err.Error()))
			}
		}()
	}
}

func (c *Client) answerDRQ(drq *ras.DRQ, from *net.UDPAddr) {
	c.reply(&ras.DCF{Header: ras.Header{RequestSeqNum: drq.RequestSeqNum}}, from)
	c.logger.Info("Client.answerDRQ", slog.String("call_id", drq.CallIdentifier.String()))
	if c.cfg.OnDisengage != nil {
		c.cfg.OnDisengage(drq.CallIdentifier)
	}
}
