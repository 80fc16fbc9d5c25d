package h245

import (
	"net"
	"testing"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagesRoundTrip(t *testing.T) {
	pcmu := Audio(FormatPCMU)
	media := &h225.TransportAddress{IP: net.ParseIP("10.0.0.1").To4(), Port: 5004}
	tests := []struct {
		name string
		msg  Message
	}{
		{"MSD", &MasterSlaveDetermination{TerminalType: 50, StatusDeterminationNumber: 0xABCDEF}},
		{"MSDAck", &MasterSlaveDeterminationAck{Decision: DecisionSlave}},
		{"MSDReject", &MasterSlaveDeterminationReject{Cause: MSDIdenticalNumbers}},
		{"MSDRelease", &MasterSlaveDeterminationRelease{}},
		{"TCS", NewTerminalCapabilitySet(3, BuildTable([]Capability{pcmu, Audio(FormatPCMA), UserInput()}))},
		{"Пустой TCS", &TerminalCapabilitySet{SequenceNumber: 4}},
		{"TCSAck", &TerminalCapabilitySetAck{SequenceNumber: 3}},
		{"TCSReject", &TerminalCapabilitySetReject{SequenceNumber: 3, Cause: TCSUndefinedTableEntryUsed}},
		{"OLC", &OpenLogicalChannel{ForwardLogicalChannelNumber: 101, ForwardDataType: &pcmu, SessionID: 1, MediaControlChannel: media}},
		{"OLC на прием", &OpenLogicalChannel{ForwardLogicalChannelNumber: 102, ReverseDataType: &pcmu, SessionID: 1, MediaChannel: media}},
		{"OLCAck", &OpenLogicalChannelAck{ForwardLogicalChannelNumber: 101, SessionID: 1, MediaChannel: media}},
		{"OLCReject masterSlaveConflict", &OpenLogicalChannelReject{ForwardLogicalChannelNumber: 101, Cause: OLCMasterSlaveConflict}},
		{"OLCConfirm", &OpenLogicalChannelConfirm{ForwardLogicalChannelNumber: 101}},
		{"CLC", &CloseLogicalChannel{ForwardLogicalChannelNumber: 101, Source: CLCSourceLCSE}},
		{"CLCAck", &CloseLogicalChannelAck{ForwardLogicalChannelNumber: 101}},
		{"RCC", &RequestChannelClose{ForwardLogicalChannelNumber: 7}},
		{"RequestMode", &RequestMode{SequenceNumber: 1, Modes: []Capability{Audio(FormatG729)}}},
		{"RequestModeAck", &RequestModeAck{SequenceNumber: 1}},
		{"RequestModeReject", &RequestModeReject{SequenceNumber: 1, Cause: ModeRequestDenied}},
		{"RTD", &RoundTripDelayRequest{SequenceNumber: 9}},
		{"RTDResponse", &RoundTripDelayResponse{SequenceNumber: 9}},
		{"SendTCS", &SendTerminalCapabilitySet{}},
		{"FlowControl", &FlowControlCommand{LogicalChannelNumber: 101, MaximumBitRate: 640}},
		{"EndSession", &EndSessionCommand{}},
		{"FNU", &FunctionNotUnderstood{Cat: CatRequest, Raw: []byte{1, 2}}},
		{"UserInput строка", &UserInputIndication{Alphanumeric: "123#"}},
		{"UserInput сигнал", &UserInputIndication{Signal: "5", Duration: 120}},
		{"GenericIndication", &GenericMessage{Cat: CatIndication, MessageIdentifier: "0.0.8.460.18", SubMessageIdentifier: 1}},
		{"GenericRequest", &GenericMessage{Cat: CatRequest, MessageIdentifier: "vendor", Parameters: []h225.GenericParameter{{ID: 1, Value: []byte{5}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.msg)
			require.NoError(t, err)
			out, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, out)
		})
	}
}

func TestDecodeUnknownMessage(t *testing.T) {
	// request с индексом 10 (maintenanceLoopRequest)
	unknown := []byte{0x0A, 0x00}
	m, err := Decode(unknown)
	require.NoError(t, err)
	u, ok := m.(*Unknown)
	require.True(t, ok)
	assert.Equal(t, CatRequest, u.Cat)

	_, err = Encode(u)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestCapabilityTable(t *testing.T) {
	table := BuildTable([]Capability{Audio(FormatPCMU), Audio(FormatG729), Video(FormatH264)})
	require.Equal(t, 3, table.Len())

	id, c, ok := table.Find(Audio(FormatG729), DirTransmit)
	require.True(t, ok)
	assert.Equal(t, uint16(2), id)
	assert.Equal(t, "G729", c.Format.Name)

	_, _, ok = table.Find(Audio(FormatPCMA), DirReceive)
	assert.False(t, ok)

	// аудио и видео одновременно допустимы, два аудио нет
	assert.True(t, table.Allowed(3, []uint16{1}))
	assert.False(t, table.Allowed(2, []uint16{1}))
	assert.False(t, table.Allowed(9, nil))
}

func TestDirectionAllows(t *testing.T) {
	assert.True(t, DirReceiveAndTransmit.Allows(DirReceive))
	assert.True(t, DirTransmit.Allows(DirTransmit))
	assert.False(t, DirReceive.Allows(DirTransmit))
}

func TestTCSTable(t *testing.T) {
	src := BuildTable([]Capability{Audio(FormatPCMA), UserInput()})
	b, err := Encode(NewTerminalCapabilitySet(1, src))
	require.NoError(t, err)
	m, err := Decode(b)
	require.NoError(t, err)
	table := m.(*TerminalCapabilitySet).Table()
	assert.Equal(t, src.Capabilities(), table.Capabilities())
	assert.Equal(t, src.Descriptors(), table.Descriptors())
}

const testSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 10.0.0.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 5004 RTP/AVP 0 8 101\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n" +
	"a=sendrecv\r\n" +
	"m=video 5006 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=recvonly\r\n"

func TestCapabilitiesFromSDP(t *testing.T) {
	caps, err := CapabilitiesFromSDP([]byte(testSDP))
	require.NoError(t, err)
	require.Len(t, caps, 4)

	assert.Equal(t, "PCMU", caps[0].Format.Name)
	assert.Equal(t, "PCMA", caps[1].Format.Name)
	assert.Equal(t, KindUserInput, caps[2].Kind)
	assert.Equal(t, KindVideo, caps[3].Kind)
	assert.Equal(t, uint32(90000), caps[3].Format.ClockRate)
	assert.Equal(t, DirReceive, caps[3].Direction)
	assert.Equal(t, DirReceiveAndTransmit, caps[0].Direction)
}

func TestSDPFromCapabilities(t *testing.T) {
	desc := SDPFromCapabilities([]Capability{Audio(FormatPCMU), UserInput(), Video(FormatH264)}, "10.0.0.1",
		map[Kind]int{KindAudio: 5004, KindVideo: 5006})
	require.Len(t, desc.MediaDescriptions, 2)
	assert.Equal(t, []string{"0", "101"}, desc.MediaDescriptions[0].MediaName.Formats)

	raw, err := desc.Marshal()
	require.NoError(t, err)
	caps, err := CapabilitiesFromSDP(raw)
	require.NoError(t, err)
	assert.Len(t, caps, 3)
}
