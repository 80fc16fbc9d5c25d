package h323

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"github.com/arzzra/h323/pkg/gkclient"
	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/h245"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// ChannelConflictPolicy поведение при встречном открытии канала в одной сессии
type ChannelConflictPolicy int

const (
	// ConflictStrict ведущий отклоняет встречный канал с masterSlaveConflict,
	// ведомый закрывает свой канал и переоткрывает его с возможностью ведущего
	ConflictStrict ChannelConflictPolicy = iota
	// ConflictAcceptIncoming встречный канал принимается всегда, собственный
	// канал остается открываться. Для терминалов, неверно обрабатывающих отказ.
	ConflictAcceptIncoming
)

func (p ChannelConflictPolicy) String() string {
	if p == ConflictAcceptIncoming {
		return "accept-incoming"
	}
	return "strict"
}

// ParseChannelConflictPolicy разбирает имя политики из конфигурации
func ParseChannelConflictPolicy(s string) (ChannelConflictPolicy, error) {
	switch s {
	case "", "strict":
		return ConflictStrict, nil
	case "accept-incoming":
		return ConflictAcceptIncoming, nil
	}
	return ConflictStrict, fmt.Errorf("неизвестная политика конфликта каналов %q", s)
}

// Gatekeeper сервис допуска вызовов. Реализуется gkclient.Client.
type Gatekeeper interface {
	Admit(ctx context.Context, req gkclient.AdmissionRequest) (*gkclient.Admission, error)
	Disengage(ctx context.Context, req gkclient.DisengageRequest) error
}

// Config параметры конечной точки
type Config struct {
	// Aliases алиасы конечной точки (номера или H323-ID)
	Aliases []string
	// DisplayName передается в Display IE
	DisplayName string
	// TerminalType тип терминала для определения ведущего (50 терминал, 60 шлюз, 120 гейткипер)
	TerminalType uint8
	// Capabilities локальные возможности в порядке предпочтения
	Capabilities []h245.Capability

	FastStart      bool
	H245Tunnelling bool
	// ChannelConflictPolicy разрешение конфликта встречного открытия каналов
	ChannelConflictPolicy ChannelConflictPolicy
	// MaxMSDRetries ограничение повторов при совпадении номеров
	MaxMSDRetries int
	// AutoForward повторный вызов по адресу переадресации из FACILITY
	AutoForward bool

	// SignallingTimeout ожидание ответа до CONNECT, 0 без ограничения
	SignallingTimeout time.Duration
	// NoMediaTimeout время после CONNECT, за которое вызов должен установиться
	NoMediaTimeout time.Duration
	// EndSessionTimeout ожидание endSession/RELEASE COMPLETE удаленной стороны
	EndSessionTimeout time.Duration
	// RoundTripDelayRate период проверки задержки H.245, 0 отключает
	RoundTripDelayRate time.Duration
	// MaxCallDuration ограничение длительности вызова, 0 без ограничения
	MaxCallDuration time.Duration

	// Bandwidth запрашиваемая у гейткипера полоса в единицах 100 бит/с
	Bandwidth uint32
	// MediaIP адрес для RTP, по умолчанию локальный адрес сигнального канала
	MediaIP net.IP
	// MediaPortMin и MediaPortMax диапазон портов RTP
	MediaPortMin uint16
	MediaPortMax uint16

	Transport  transport.Config
	Gatekeeper Gatekeeper

	AnswerFunc   AnswerFunc
	EventHandler EventHandler

	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Clock      clock.Clock
	// DeterminationNumber источник случайных чисел определения ведущего
	DeterminationNumber func() uint32
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		TerminalType: 50,
		Capabilities: []h245.Capability{
			h245.Audio(h245.FormatPCMU),
			h245.Audio(h245.FormatPCMA),
			h245.Audio(h245.FormatG729),
			h245.UserInput(),
		},
		FastStart:          true,
		H245Tunnelling:     true,
		MaxMSDRetries:      5,
		SignallingTimeout:  60 * time.Second,
		NoMediaTimeout:     30 * time.Second,
		EndSessionTimeout:  3 * time.Second,
		RoundTripDelayRate: 10 * time.Second,
		Bandwidth:          1280,
		MediaPortMin:       5000,
		MediaPortMax:       5999,
		Transport:          transport.DefaultConfig(),
	}
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	for _, a := range c.Aliases {
		if a == "" {
			return fmt.Errorf("алиас не может быть пустым")
		}
	}
	if c.MaxMSDRetries < 1 {
		return fmt.Errorf("MaxMSDRetries должен быть положительным")
	}
	if c.SignallingTimeout < 0 || c.NoMediaTimeout < 0 || c.EndSessionTimeout < 0 ||
		c.RoundTripDelayRate < 0 || c.MaxCallDuration < 0 {
		return fmt.Errorf("таймауты не могут быть отрицательными")
	}
	if c.MediaPortMin == 0 || c.MediaPortMax < c.MediaPortMin+1 {
		return fmt.Errorf("некорректный диапазон портов RTP %d-%d", c.MediaPortMin, c.MediaPortMax)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("некорректная конфигурация транспорта: %w", err)
	}
	return nil
}

func (c *Config) aliasAddresses() []h225.AliasAddress {
	out := make([]h225.AliasAddress, 0, len(c.Aliases))
	for _, a := range c.Aliases {
		out = append(out, h225.ParseAlias(a))
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.DeterminationNumber == nil {
		c.DeterminationNumber = func() uint32 {
			return rand.Uint32() & h245.MaxDeterminationNumber
		}
	}
	if c.TerminalType == 0 {
		c.TerminalType = 50
	}
}
