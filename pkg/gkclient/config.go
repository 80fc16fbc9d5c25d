package gkclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/h235"
	"github.com/arzzra/h323/pkg/ras"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/benbjohnson/clock"
)

// Config параметры RAS клиента конечной точки
type Config struct {
	// GatekeeperAddress адрес RAS гейткипера host:port
	GatekeeperAddress string
	// GatekeeperID ожидаемый идентификатор гейткипера, пустой принимает любой
	GatekeeperID string
	// LocalAddress адрес локального RAS сокета, по умолчанию ":0"
	LocalAddress string

	Aliases             []string
	EndpointType        h225.EndpointType
	CallSignalAddresses []h225.TransportAddress

	// TimeToLive запрашиваемое время жизни регистрации
	TimeToLive time.Duration
	// RequestTimeout ожидание ответа на один запрос
	RequestTimeout time.Duration
	// MaxRetries количество повторных отправок запроса
	MaxRetries int

	Credentials h235.Credentials
	Auth        *h235.Set
	Transport   transport.Config

	Clock  clock.Clock
	Logger *slog.Logger

	// CallInfo возвращает сведения об активных вызовах для IRR
	CallInfo func() []ras.PerCallInfo
	// OnDisengage вызывается при DRQ от гейткипера
	OnDisengage func(callID h225.GUID)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		LocalAddress:   ":0",
		EndpointType:   h225.EndpointType{Kind: h225.EndpointTerminal, Vendor: "arzzra", Version: "1.0"},
		TimeToLive:     60 * time.Second,
		RequestTimeout: 3 * time.Second,
		MaxRetries:     2,
		Transport:      transport.DefaultConfig(),
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.GatekeeperAddress == "" {
		return fmt.Errorf("адрес гейткипера не задан")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("таймаут запроса должен быть положительным")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("количество повторов не может быть отрицательным")
	}
	if c.TimeToLive < 0 {
		return fmt.Errorf("время жизни регистрации не может быть отрицательным")
	}
	return c.Transport.Validate()
}

func (c *Config) applyDefaults() {
	if c.LocalAddress == "" {
		c.LocalAddress = ":0"
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
