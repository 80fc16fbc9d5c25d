// Package h225 содержит типы H.225.0, общие для сигнализации вызова и RAS:
// идентификаторы, адреса, алиасы, токены безопасности и H323-UU-PDU.
package h225

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ProtocolIdentifier версия H.225.0, объявляемая в исходящих PDU
const ProtocolIdentifier = "0.0.8.2250.0.4"

// ErrBadAddress адрес транспорта не удалось разобрать
var ErrBadAddress = errors.New("h225: bad transport address")

// GUID 128-битный глобально уникальный идентификатор.
// Используется для CallIdentifier и ConferenceIdentifier.
type GUID uuid.UUID

// NewGUID генерирует новый случайный идентификатор
func NewGUID() GUID {
	return GUID(uuid.New())
}

// ParseGUID разбирает строковое представление идентификатора
func ParseGUID(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GUID{}, errors.Wrap(err, "parse guid")
	}
	return GUID(u), nil
}

// IsZero возвращает true для незаполненного идентификатора
func (g GUID) IsZero() bool {
	return g == GUID{}
}

func (g GUID) String() string {
	return uuid.UUID(g).String()
}

// AliasKind тип алиаса
type AliasKind int

const (
	AliasDialedDigits AliasKind = iota
	AliasH323ID
	AliasURL
	AliasTransport
	AliasEmail
	AliasPartyNumber
)

func (k AliasKind) String() string {
	switch k {
	case AliasDialedDigits:
		return "dialedDigits"
	case AliasH323ID:
		return "h323-ID"
	case AliasURL:
		return "url-ID"
	case AliasTransport:
		return "transportID"
	case AliasEmail:
		return "email-ID"
	case AliasPartyNumber:
		return "partyNumber"
	default:
		return fmt.Sprintf("AliasKind(%d)", int(k))
	}
}

// AliasAddress алиас конечной точки.
// Для AliasTransport значение хранится в поле Transport.
type AliasAddress struct {
	Kind      AliasKind
	Value     string
	Transport TransportAddress
}

// ParseAlias определяет тип алиаса по его строковому виду:
// только цифры -> dialedDigits, "scheme:" -> URL, "user@host" -> email,
// "ip:port" -> transportID, иначе h323-ID.
func ParseAlias(s string) AliasAddress {
	switch {
	case s != "" && isDialedDigits(s):
		return AliasAddress{Kind: AliasDialedDigits, Value: s}
	case strings.Contains(s, "://") || strings.HasPrefix(s, "h323:"):
		return AliasAddress{Kind: AliasURL, Value: s}
	case strings.Contains(s, "@"):
		return AliasAddress{Kind: AliasEmail, Value: s}
	}
	if ta, err := ParseTransportAddress(s, 0); err == nil && ta.Port != 0 {
		return AliasAddress{Kind: AliasTransport, Transport: ta}
	}
	return AliasAddress{Kind: AliasH323ID, Value: s}
}

// NewDialedDigits создает алиас из цифр
func NewDialedDigits(digits string) AliasAddress {
	return AliasAddress{Kind: AliasDialedDigits, Value: digits}
}

// NewH323ID создает h323-ID алиас
func NewH323ID(id string) AliasAddress {
	return AliasAddress{Kind: AliasH323ID, Value: id}
}

// String возвращает значение алиаса без указания типа
func (a AliasAddress) String() string {
	if a.Kind == AliasTransport {
		return a.Transport.String()
	}
	return a.Value
}

// Equal сравнивает алиасы по типу и значению
func (a AliasAddress) Equal(b AliasAddress) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == AliasTransport {
		return a.Transport.Equal(b.Transport)
	}
	return a.Value == b.Value
}

// Key возвращает ключ для индексации алиасов в реестрах
func (a AliasAddress) Key() string {
	return a.Kind.String() + ":" + a.String()
}

func isDialedDigits(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789#*,", c) {
			return false
		}
	}
	return true
}

// AliasStrings возвращает строковые значения алиасов
func AliasStrings(aliases []AliasAddress) []string {
	out := make([]string, len(aliases))
	for i, a := range aliases {
		out[i] = a.String()
	}
	return out
}

// TransportAddress IPv4/IPv6 адрес с портом
type TransportAddress struct {
	IP   net.IP
	Port uint16
}

// ParseTransportAddress разбирает "host:port" или "host" с портом по умолчанию.
// Имена хостов не разрешаются, допускаются только IP-литералы.
func ParseTransportAddress(s string, defaultPort uint16) (TransportAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		host = strings.Trim(s, "[]")
		portStr = ""
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return TransportAddress{}, errors.Wrapf(ErrBadAddress, "%q", s)
	}
	port := defaultPort
	if portStr != "" {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return TransportAddress{}, errors.Wrapf(ErrBadAddress, "port in %q", s)
		}
		port = uint16(p)
	}
	return TransportAddress{IP: normalizeIP(ip), Port: port}, nil
}

// TransportAddressFromNet преобразует net.Addr (TCP/UDP) в TransportAddress
func TransportAddressFromNet(addr net.Addr) TransportAddress {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return TransportAddress{IP: normalizeIP(a.IP), Port: uint16(a.Port)}
	case *net.UDPAddr:
		return TransportAddress{IP: normalizeIP(a.IP), Port: uint16(a.Port)}
	}
	if addr == nil {
		return TransportAddress{}
	}
	ta, _ := ParseTransportAddress(addr.String(), 0)
	return ta
}

func normalizeIP(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// IsZero возвращает true если адрес не задан
func (t TransportAddress) IsZero() bool {
	return len(t.IP) == 0 && t.Port == 0
}

// Equal сравнивает адреса
func (t TransportAddress) Equal(o TransportAddress) bool {
	return t.IP.Equal(o.IP) && t.Port == o.Port
}

func (t TransportAddress) String() string {
	if len(t.IP) == 0 {
		return fmt.Sprintf(":%d", t.Port)
	}
	return net.JoinHostPort(t.IP.String(), strconv.Itoa(int(t.Port)))
}

// UDPAddr возвращает адрес в виде *net.UDPAddr
func (t TransportAddress) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: t.IP, Port: int(t.Port)}
}

// EndpointKind тип конечной точки
type EndpointKind int

const (
	EndpointTerminal EndpointKind = iota
	EndpointGateway
	EndpointMCU
	EndpointGatekeeper
)

// EndpointType описание типа конечной точки и производителя
type EndpointType struct {
	Kind    EndpointKind
	Vendor  string
	Version string
}

// Token криптографический токен H.235 (clear token / hashed token).
// Поля заполняет и проверяет пакет h235.
type Token struct {
	OID       string
	Timestamp uint32
	Random    uint32
	GeneralID string
	SenderID  string
	Challenge []byte
	Hash      []byte
}

// GenericParameter параметр generic-дескриптора
type GenericParameter struct {
	ID    uint32
	Value []byte
}

// GenericData generic feature descriptor (используется для расширений вида H.460)
type GenericData struct {
	ID         string
	Parameters []GenericParameter
}
