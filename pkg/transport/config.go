package transport

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"
)

// Протоколы сигнального транспорта
const (
	NetworkTCP = "tcp"
	NetworkTLS = "tls"
	NetworkUDP = "udp"
)

// Config параметры транспорта
type Config struct {
	// ReadTimeout таймаут чтения кадра, 0 без ограничения
	ReadTimeout time.Duration
	// WriteTimeout таймаут записи кадра
	WriteTimeout time.Duration
	// DialTimeout таймаут установления TCP соединения
	DialTimeout time.Duration
	// KeepAlive период TCP keep-alive, 0 отключает
	KeepAlive time.Duration
	// DSCP маркировка сигнального трафика (0..63), 0 не устанавливает
	DSCP int
	// TLS конфигурация для протокола tls
	TLS *tls.Config
	// MaxConnections ограничение входящих соединений листенера, 0 без ограничения
	MaxConnections int

	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию транспорта по умолчанию
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		DialTimeout:  10 * time.Second,
		KeepAlive:    30 * time.Second,
		DSCP:         26, // AF31
	}
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.DialTimeout < 0 {
		return fmt.Errorf("таймауты не могут быть отрицательными")
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("DSCP должен быть в диапазоне 0..63, получено %d", c.DSCP)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("MaxConnections не может быть отрицательным")
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Stats статистика транспорта
type Stats struct {
	MessagesReceived  uint64
	MessagesSent      uint64
	BytesReceived     uint64
	BytesSent         uint64
	Errors            uint64
	ActiveConnections int
}
