package q931

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	m := NewMessage(MsgSetup, 0x1234, false)
	m.SetBearerCapability(BearerSpeech)
	m.SetUserUser([]byte{0xde, 0xad})
	m.SetCalledPartyNumber("2000")
	m.SetCallingPartyNumber("1000")
	m.SetDisplay("Алиса")

	b, err := m.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x02, 0x12, 0x34, 0x05}, b[:5])

	out, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, MsgSetup, out.Type)
	assert.Equal(t, uint16(0x1234), out.CallReference)
	assert.False(t, out.FromDestination)

	called, ok := out.CalledPartyNumber()
	require.True(t, ok)
	assert.Equal(t, "2000", called)
	calling, ok := out.CallingPartyNumber()
	require.True(t, ok)
	assert.Equal(t, "1000", calling)
	assert.Equal(t, "Алиса", out.Display())

	uu, err := out.UserUser()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, uu)
}

func TestIEOrder(t *testing.T) {
	m := NewMessage(MsgReleaseComplete, 1, true)
	m.SetUserUser(nil)
	m.SetCause(CauseUserBusy)
	m.SetBearerCapability(BearerUnrestrictedDigital)

	require.Len(t, m.IEs, 3)
	assert.Equal(t, IEBearerCapability, m.IEs[0].Type)
	assert.Equal(t, IECause, m.IEs[1].Type)
	assert.Equal(t, IEUserUser, m.IEs[2].Type)

	b, err := m.Marshal()
	require.NoError(t, err)
	out, err := Unmarshal(b)
	require.NoError(t, err)
	assert.True(t, out.FromDestination)
	c, ok := out.Cause()
	require.True(t, ok)
	assert.Equal(t, CauseUserBusy, c)
}

func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"Пустое сообщение", nil},
		{"Чужой дискриминатор", []byte{0x09, 0x02, 0, 1, 5}},
		{"Обрезанный IE", []byte{0x08, 0x02, 0, 1, 5, 0x28, 10, 'a'}},
		{"Обрезанная длина User-User", []byte{0x08, 0x02, 0, 1, 5, 0x7e, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.in)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestStatusCallState(t *testing.T) {
	m := NewMessage(MsgStatus, 7, true)
	m.SetCause(CauseStatusEnquiryResponse)
	m.SetCallState(CallStateActive)
	s, ok := m.CallState()
	require.True(t, ok)
	assert.Equal(t, CallStateActive, s)
}

func TestTPKT(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTPKT(&buf, []byte{1, 2, 3}))
	assert.Equal(t, []byte{3, 0, 0, 7, 1, 2, 3}, buf.Bytes())

	require.NoError(t, WriteTPKT(&buf, nil))
	p, err := ReadTPKT(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, p)
	p, err = ReadTPKT(&buf)
	require.NoError(t, err)
	assert.Empty(t, p)

	_, err = ReadTPKT(bytes.NewReader([]byte{2, 0, 0, 4}))
	assert.ErrorIs(t, err, ErrBadTPKT)
}
