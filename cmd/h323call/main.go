// h323call конечная точка H.323 для командной строки: выполняет один
// исходящий вызов или принимает входящие.
//
//	h323call --alias 1000 --gatekeeper 10.0.0.1:1719 2000
//	h323call --alias 2000 --listen :1720
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arzzra/h323/internal/config"
	"github.com/arzzra/h323/internal/logging"
	"github.com/arzzra/h323/pkg/gkclient"
	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/h323"
	"github.com/arzzra/h323/pkg/ras"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "h323call:", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	fs := pflag.NewFlagSet("h323call", pflag.ContinueOnError)
	config.EndpointFlags(fs)
	duration := fs.Duration("duration", 0, "clear the outgoing call after this time, 0 waits for the remote side")
	answer := fs.String("answer", "now", "incoming call handling: now, alerting or deny")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.LoadEndpoint(fs)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	epCfg, err := cfg.Endpoint.EndpointConfig(logger, nil)
	if err != nil {
		return err
	}
	switch *answer {
	case "now":
		epCfg.AnswerFunc = func(*h323.Connection, h323.IncomingCall) h323.AnswerResponse { return h323.AnswerNow }
	case "alerting":
		epCfg.AnswerFunc = func(c *h323.Connection, _ h323.IncomingCall) h323.AnswerResponse {
			go func() {
				time.Sleep(2 * time.Second)
				_ = c.SetConnected()
			}()
			return h323.AnswerAlerting
		}
	case "deny":
		epCfg.AnswerFunc = func(*h323.Connection, h323.IncomingCall) h323.AnswerResponse { return h323.AnswerDenied }
	default:
		return fmt.Errorf("unknown answer mode %q", *answer)
	}

	cleared := make(chan h323.CallEndReason, 1)
	epCfg.EventHandler = func(ev h323.Event) {
		attrs := []any{slog.String("event", ev.Type.String()), slog.String("call_id", ev.Connection.CallID().String())}
		if ev.Channel != nil {
			attrs = append(attrs, slog.String("channel", ev.Channel.String()))
		}
		if ev.Type == h323.EventCleared {
			attrs = append(attrs, slog.String("reason", ev.Reason.String()))
			if ev.Connection.IsOriginating() {
				select {
				case cleared <- ev.Reason:
				default:
				}
			}
		}
		logger.Info("main.event", attrs...)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var ep *h323.Endpoint
	var gk *gkclient.Client
	if cfg.Endpoint.Gatekeeper != "" {
		signalAddr, err := signalAddress(cfg.Endpoint.Listen, cfg.Endpoint.Gatekeeper)
		if err != nil {
			return err
		}
		clientCfg, err := cfg.Endpoint.ClientConfig(logger, []h225.TransportAddress{signalAddr})
		if err != nil {
			return err
		}
		clientCfg.CallInfo = func() []ras.PerCallInfo {
			if ep == nil {
				return nil
			}
			return ep.CallInfo()
		}
		clientCfg.OnDisengage = func(id h225.GUID) {
			if ep != nil {
				ep.Disengaged(id)
			}
		}
		gk, err = gkclient.New(clientCfg)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, gk.Close()) }()
		epCfg.Gatekeeper = gk
	}

	ep, err = h323.NewEndpoint(epCfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, ep.Close()) }()

	if cfg.Endpoint.Listen != "" {
		if _, err := ep.Listen(transport.NetworkTCP, cfg.Endpoint.Listen); err != nil {
			return err
		}
	}

	if gk != nil {
		if err := gk.Discover(ctx); err != nil {
			return errors.Wrap(err, "gatekeeper discovery")
		}
		if err := gk.Register(ctx); err != nil {
			return errors.Wrap(err, "gatekeeper registration")
		}
		defer func() {
			unregCtx, unregCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer unregCancel()
			err = multierr.Append(err, gk.Unregister(unregCtx))
		}()
	}

	if fs.NArg() == 0 {
		logger.Info("main.waiting", slog.String("listen", cfg.Endpoint.Listen))
		<-ctx.Done()
		return nil
	}

	callCtx, callCancel := context.WithTimeout(ctx, 30*time.Second)
	defer callCancel()
	call, err := ep.MakeCall(callCtx, fs.Arg(0))
	if err != nil {
		return err
	}

	var limit <-chan time.Time
	if *duration > 0 {
		timer := time.NewTimer(*duration)
		defer timer.Stop()
		limit = timer.C
	}
	select {
	case reason := <-cleared:
		logger.Info("main.cleared", slog.String("reason", reason.String()))
	case <-limit:
		call.ClearCall(h323.EndedByDurationLimit)
		<-call.Done()
	case <-ctx.Done():
		call.ClearCall(h323.EndedByLocalUser)
		<-call.Done()
	}
	return nil
}

// signalAddress адрес сигнализации для регистрации. Для адреса приема без
// IP берется локальный адрес маршрута до гейткипера.
func signalAddress(listen, gatekeeper string) (h225.TransportAddress, error) {
	if listen == "" {
		listen = fmt.Sprintf(":%d", h323.DefaultSignalPort)
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return h225.TransportAddress{}, errors.Wrap(err, "listen address")
	}
	if host == "" || net.ParseIP(host).IsUnspecified() {
		conn, err := net.Dial("udp", gatekeeper)
		if err != nil {
			return h225.TransportAddress{}, errors.Wrap(err, "route to gatekeeper")
		}
		host = conn.LocalAddr().(*net.UDPAddr).IP.String()
		_ = conn.Close()
	}
	return h225.ParseTransportAddress(net.JoinHostPort(host, port), h323.DefaultSignalPort)
}
