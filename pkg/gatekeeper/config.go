// Package gatekeeper реализует RAS сервер гейткипера H.323: регистрацию
// конечных точек, допуск вызовов с учетом полосы, отбой, поиск адресов
// и контроль живости.
package gatekeeper

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/arzzra/h323/pkg/h235"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// Config параметры гейткипера
type Config struct {
	// ID идентификатор гейткипера в GCF/RCF
	ID string
	// ListenAddress адрес RAS сокета, по умолчанию ":1719"
	ListenAddress string

	// DefaultTTL время жизни регистрации, если RRQ его не указывает
	DefaultTTL time.Duration
	// MaxTTL верхняя граница запрашиваемого TTL, 0 без ограничения
	MaxTTL time.Duration

	// AllowDuplicateAliases разрешает один алиас у нескольких конечных точек
	AllowDuplicateAliases bool
	// AliasPoolStart, AliasPoolEnd диапазон номеров для конечных точек без алиасов.
	// Нулевой AliasPoolEnd отключает выделение.
	AliasPoolStart uint64
	AliasPoolEnd   uint64

	// TotalBandwidth общая полоса зоны в единицах 100 бит/с
	TotalBandwidth uint32
	// DefaultCallBandwidth ограничение первого выделения полосы вызову
	DefaultCallBandwidth uint32
	// MaxCallBandwidth абсолютное ограничение полосы одного вызова
	MaxCallBandwidth uint32

	// IRRFrequency период IRR для вызовов, передается в ACF. 0 отключает контроль вызовов.
	IRRFrequency time.Duration
	// InfoResponseTimeout ожидание IRR на IRQ монитора
	InfoResponseTimeout time.Duration
	// MonitorInterval период обхода реестров
	MonitorInterval time.Duration
	// DisengageOnTimeout отправлять DRQ при удалении вызова без IRR
	DisengageOnTimeout bool

	// Routes статическая таблица алиас -> адрес сигнализации host:port
	Routes map[string]string
	// AliasAsHostname разрешать алиасы как доменные имена через DNS
	AliasAsHostname bool
	// DNSServer адрес DNS сервера host:port, по умолчанию из resolv.conf
	DNSServer string
	// Neighbours адреса RAS соседних гейткиперов для LRQ
	Neighbours []string
	// LocateTimeout ожидание ответа соседей
	LocateTimeout time.Duration

	// Policy проверка вызовов, по умолчанию разрешает все
	Policy Policy

	// Auth механизмы H.235. Если задан, запросы должны нести корректные токены.
	Auth *h235.Set
	// Passwords пароли по идентификатору отправителя или алиасу
	Passwords map[string]string

	// MaxConcurrentRequests ограничение одновременно обрабатываемых запросов
	MaxConcurrentRequests int64
	// ReplyCacheSize размер кэша ответов для повторных запросов
	ReplyCacheSize int
	// RequestInProgressDelay задержка, сообщаемая в RIP
	RequestInProgressDelay time.Duration

	Transport    transport.Config
	Clock        clock.Clock
	Logger       *slog.Logger
	Registerer   prometheus.Registerer
	EventHandler func(Event)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ID:                     "arzzra-gk",
		ListenAddress:          ":1719",
		DefaultTTL:             300 * time.Second,
		MaxTTL:                 time.Hour,
		TotalBandwidth:         0xFFFFFFFF,
		DefaultCallBandwidth:   2560,
		MaxCallBandwidth:       100000000,
		InfoResponseTimeout:    5 * time.Second,
		MonitorInterval:        time.Minute,
		LocateTimeout:          3 * time.Second,
		MaxConcurrentRequests:  64,
		ReplyCacheSize:         1024,
		RequestInProgressDelay: 2 * time.Second,
		Transport:              transport.DefaultConfig(),
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("идентификатор гейткипера не задан")
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("время жизни регистрации должно быть положительным")
	}
	if c.MaxTTL < 0 || c.IRRFrequency < 0 || c.InfoResponseTimeout < 0 {
		return fmt.Errorf("интервалы не могут быть отрицательными")
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("период монитора должен быть положительным")
	}
	if c.AliasPoolEnd != 0 && c.AliasPoolStart > c.AliasPoolEnd {
		return fmt.Errorf("неверный диапазон алиасов %d-%d", c.AliasPoolStart, c.AliasPoolEnd)
	}
	if c.MaxCallBandwidth != 0 && c.DefaultCallBandwidth > c.MaxCallBandwidth {
		return fmt.Errorf("полоса по умолчанию превышает максимальную")
	}
	if c.MaxConcurrentRequests < 0 || c.ReplyCacheSize < 0 {
		return fmt.Errorf("ограничения не могут быть отрицательными")
	}
	return c.Transport.Validate()
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":1719"
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = 64
	}
	if c.ReplyCacheSize == 0 {
		c.ReplyCacheSize = 1024
	}
	if c.RequestInProgressDelay == 0 {
		c.RequestInProgressDelay = 2 * time.Second
	}
	if c.LocateTimeout == 0 {
		c.LocateTimeout = 3 * time.Second
	}
	if c.MaxCallBandwidth == 0 {
		c.MaxCallBandwidth = 0xFFFFFFFF
	}
	if c.Policy == nil {
		c.Policy = AllowAll{}
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Transport.Logger == nil {
		c.Transport.Logger = c.Logger
	}
}
