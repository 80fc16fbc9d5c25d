// Package h235 реализует набор аутентификаторов H.235: формирование и
// проверку токенов в PDU RAS и сигнализации.
package h235

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Идентификаторы механизмов
const (
	MechanismPasswordHash = "pwdHash"
	MechanismCAT          = "CAT"

	oidPasswordHash = "0.0.8.235.0.2.1"
	oidCAT          = "1.2.840.113548.10.1.2.1"
)

var (
	// ErrNoToken нет токена ни одного из поддерживаемых механизмов
	ErrNoToken = errors.New("h235: no usable token")
	// ErrBadHash хэш токена не совпал
	ErrBadHash = errors.New("h235: token hash mismatch")
	// ErrTimestamp метка времени вне допустимого окна
	ErrTimestamp = errors.New("h235: token timestamp out of window")
	// ErrReplay токен уже был предъявлен
	ErrReplay = errors.New("h235: token replayed")
	// ErrUnknownSender для отправителя нет учетных данных
	ErrUnknownSender = errors.New("h235: unknown sender")
	// ErrUnknownMechanism механизм не поддерживается
	ErrUnknownMechanism = errors.New("h235: unknown mechanism")
)

// Credentials учетные данные отправителя
type Credentials struct {
	SenderID string
	Password string
}

// PasswordLookup возвращает пароль для идентификатора отправителя
type PasswordLookup func(senderID string) (string, bool)

// mechanism способ вычисления хэша токена
type mechanism interface {
	name() string
	oid() string
	hash(tok *h225.Token, password string) []byte
}

type passwordHash struct{}

func (passwordHash) name() string { return MechanismPasswordHash }
func (passwordHash) oid() string  { return oidPasswordHash }

// hash HMAC-SHA1 от метки времени, случайного числа и идентификаторов
func (passwordHash) hash(tok *h225.Token, password string) []byte {
	mac := hmac.New(sha1.New, []byte(password))
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], tok.Timestamp)
	binary.BigEndian.PutUint32(buf[4:], tok.Random)
	mac.Write([]byte(tok.OID))
	mac.Write(buf[:])
	mac.Write([]byte(tok.SenderID))
	mac.Write([]byte(tok.GeneralID))
	return mac.Sum(nil)
}

type cat struct{}

func (cat) name() string { return MechanismCAT }
func (cat) oid() string  { return oidCAT }

// hash MD5(random || password || timestamp)
func (cat) hash(tok *h225.Token, password string) []byte {
	h := md5.New()
	h.Write([]byte{byte(tok.Random)})
	h.Write([]byte(password))
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], tok.Timestamp)
	h.Write(ts[:])
	return h.Sum(nil)
}

func mechanismByName(name string) (mechanism, bool) {
	switch name {
	case MechanismPasswordHash:
		return passwordHash{}, true
	case MechanismCAT:
		return cat{}, true
	}
	return nil, false
}

// Config параметры набора аутентификаторов
type Config struct {
	// Mechanisms в порядке предпочтения
	Mechanisms []string
	// TimestampWindow допустимое расхождение часов
	TimestampWindow time.Duration
	// ReplayCacheSize размер кэша уже предъявленных токенов
	ReplayCacheSize int
	Clock           clock.Clock
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	for _, m := range c.Mechanisms {
		if _, ok := mechanismByName(m); !ok {
			return errors.Wrapf(ErrUnknownMechanism, "механизм %q", m)
		}
	}
	if c.TimestampWindow < 0 {
		return errors.New("окно метки времени не может быть отрицательным")
	}
	if c.ReplayCacheSize < 0 {
		return errors.New("размер кэша повторов не может быть отрицательным")
	}
	return nil
}

// Set набор аутентификаторов одной стороны
type Set struct {
	mechs  []mechanism
	window time.Duration
	clock  clock.Clock

	mu     sync.Mutex
	replay *lru.Cache[string, struct{}]
}

// NewSet создает набор аутентификаторов
func NewSet(cfg Config) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TimestampWindow == 0 {
		cfg.TimestampWindow = 30 * time.Second
	}
	if cfg.ReplayCacheSize == 0 {
		cfg.ReplayCacheSize = 4096
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	cache, err := lru.New[string, struct{}](cfg.ReplayCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "replay cache")
	}
	s := &Set{window: cfg.TimestampWindow, clock: cfg.Clock, replay: cache}
	for _, name := range cfg.Mechanisms {
		m, _ := mechanismByName(name)
		s.mechs = append(s.mechs, m)
	}
	return s, nil
}

// Enabled возвращает true если настроен хотя бы один механизм
func (s *Set) Enabled() bool {
	return s != nil && len(s.mechs) > 0
}

// Mechanisms возвращает имена механизмов в порядке предпочтения
func (s *Set) Mechanisms() []string {
	out := make([]string, len(s.mechs))
	for i, m := range s.mechs {
		out[i] = m.name()
	}
	return out
}

// Select выбирает первый собственный механизм, предложенный удаленной стороной
func (s *Set) Select(offered []string) (string, bool) {
	for _, m := range s.mechs {
		for _, o := range offered {
			if o == m.name() {
				return o, true
			}
		}
	}
	return "", false
}

// CreateToken формирует токен указанного механизма
func (s *Set) CreateToken(mech string, cred Credentials, generalID string) (h225.Token, error) {
	m, ok := mechanismByName(mech)
	if !ok {
		return h225.Token{}, errors.Wrapf(ErrUnknownMechanism, "%q", mech)
	}
	var rnd [4]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		return h225.Token{}, errors.Wrap(err, "random")
	}
	tok := h225.Token{
		OID:       m.oid(),
		Timestamp: uint32(s.clock.Now().Unix()),
		Random:    binary.BigEndian.Uint32(rnd[:]),
		SenderID:  cred.SenderID,
		GeneralID: generalID,
	}
	if m.name() == MechanismCAT {
		tok.Random &= 0xff
	}
	tok.Hash = m.hash(&tok, cred.Password)
	return tok, nil
}

// CreateTokens формирует по токену для каждого настроенного механизма
func (s *Set) CreateTokens(cred Credentials, generalID string) ([]h225.Token, error) {
	var out []h225.Token
	for _, m := range s.mechs {
		tok, err := s.CreateToken(m.name(), cred, generalID)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, nil
}

// Validate проверяет, что среди токенов есть хотя бы один корректный токен
// одного из настроенных механизмов. Пароль отправителя определяется lookup.
func (s *Set) Validate(tokens []h225.Token, lookup PasswordLookup) error {
	var lastErr error = ErrNoToken
	for i := range tokens {
		tok := &tokens[i]
		m := s.byOID(tok.OID)
		if m == nil {
			continue
		}
		if err := s.check(m, tok, lookup); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (s *Set) byOID(oid string) mechanism {
	for _, m := range s.mechs {
		if m.oid() == oid {
			return m
		}
	}
	return nil
}

func (s *Set) check(m mechanism, tok *h225.Token, lookup PasswordLookup) error {
	sender := tok.SenderID
	if sender == "" {
		sender = tok.GeneralID
	}
	password, ok := lookup(sender)
	if !ok {
		return errors.Wrapf(ErrUnknownSender, "%q", sender)
	}

	now := s.clock.Now()
	ts := time.Unix(int64(tok.Timestamp), 0)
	if ts.Before(now.Add(-s.window)) || ts.After(now.Add(s.window)) {
		return errors.Wrapf(ErrTimestamp, "%s vs %s", ts.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}

	if !hmac.Equal(m.hash(tok, password), tok.Hash) {
		return ErrBadHash
	}

	key := fmt.Sprintf("%s|%s|%d|%d|%x", tok.OID, sender, tok.Timestamp, tok.Random, tok.Hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.replay.Get(key); seen {
		return ErrReplay
	}
	s.replay.Add(key, struct{}{})
	return nil
}
