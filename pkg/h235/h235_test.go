package h235

import (
	"testing"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSet(t *testing.T, mech ...string) (*Set, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	s, err := NewSet(Config{Mechanisms: mech, Clock: mock})
	require.NoError(t, err)
	return s, mock
}

func passwords(m map[string]string) PasswordLookup {
	return func(id string) (string, bool) {
		p, ok := m[id]
		return p, ok
	}
}

func TestValidateTokens(t *testing.T) {
	for _, mech := range []string{MechanismPasswordHash, MechanismCAT} {
		t.Run(mech, func(t *testing.T) {
			s, _ := newTestSet(t, mech)
			tok, err := s.CreateToken(mech, Credentials{SenderID: "1000", Password: "secret"}, "gk")
			require.NoError(t, err)

			err = s.Validate([]h225.Token{tok}, passwords(map[string]string{"1000": "secret"}))
			assert.NoError(t, err)
		})
	}
}

func TestValidateErrors(t *testing.T) {
	s, mock := newTestSet(t, MechanismPasswordHash)
	cred := Credentials{SenderID: "1000", Password: "secret"}
	lookup := passwords(map[string]string{"1000": "secret"})

	t.Run("Неверный пароль", func(t *testing.T) {
		tok, err := s.CreateToken(MechanismPasswordHash, Credentials{SenderID: "1000", Password: "wrong"}, "")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Validate([]h225.Token{tok}, lookup), ErrBadHash)
	})

	t.Run("Неизвестный отправитель", func(t *testing.T) {
		tok, err := s.CreateToken(MechanismPasswordHash, Credentials{SenderID: "2000", Password: "secret"}, "")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Validate([]h225.Token{tok}, lookup), ErrUnknownSender)
	})

	t.Run("Повтор токена", func(t *testing.T) {
		tok, err := s.CreateToken(MechanismPasswordHash, cred, "")
		require.NoError(t, err)
		require.NoError(t, s.Validate([]h225.Token{tok}, lookup))
		assert.ErrorIs(t, s.Validate([]h225.Token{tok}, lookup), ErrReplay)
	})

	t.Run("Устаревшая метка времени", func(t *testing.T) {
		tok, err := s.CreateToken(MechanismPasswordHash, cred, "")
		require.NoError(t, err)
		mock.Add(time.Minute)
		assert.ErrorIs(t, s.Validate([]h225.Token{tok}, lookup), ErrTimestamp)
	})

	t.Run("Нет токенов", func(t *testing.T) {
		assert.ErrorIs(t, s.Validate(nil, lookup), ErrNoToken)
	})
}

func TestSelectMechanism(t *testing.T) {
	s, _ := newTestSet(t, MechanismCAT, MechanismPasswordHash)
	m, ok := s.Select([]string{MechanismPasswordHash})
	require.True(t, ok)
	assert.Equal(t, MechanismPasswordHash, m)

	_, ok = s.Select([]string{"unknown"})
	assert.False(t, ok)
	assert.Equal(t, []string{MechanismCAT, MechanismPasswordHash}, s.Mechanisms())
}

func TestConfigValidate(t *testing.T) {
	_, err := NewSet(Config{Mechanisms: []string{"md4"}})
	assert.ErrorIs(t, err, ErrUnknownMechanism)
}
