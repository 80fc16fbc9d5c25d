package ras

import (
	"net"
	"testing"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(s string, port uint16) h225.TransportAddress {
	return h225.TransportAddress{IP: net.ParseIP(s).To4(), Port: port}
}

func TestRoundTrip(t *testing.T) {
	callID := h225.NewGUID()
	dst := addr("10.0.0.2", 1720)
	tests := []struct {
		name string
		msg  Message
	}{
		{"GRQ", &GRQ{Header: Header{5}, RASAddress: addr("10.0.0.1", 1719), AuthenticationCapability: []string{"pwdHash"}}},
		{"GCF", &GCF{Header: Header{5}, GatekeeperID: "gk", RASAddress: addr("10.0.0.9", 1719), Authentication: "pwdHash"}},
		{"GRJ", &GRJ{Header: Header{5}, Reason: GRJSecurityDenial}},
		{"RRQ", &RRQ{
			Header:              Header{6},
			DiscoveryComplete:   true,
			CallSignalAddresses: []h225.TransportAddress{addr("10.0.0.1", 1720)},
			RASAddresses:        []h225.TransportAddress{addr("10.0.0.1", 1719)},
			TerminalAliases:     []h225.AliasAddress{h225.NewDialedDigits("1000")},
			TimeToLive:          300,
			VoicePrefixes:       []string{"8"},
		}},
		{"RCF", &RCF{Header: Header{6}, EndpointIdentifier: "ep-1", TimeToLive: 300, WillRespondToIRR: true}},
		{"RRJ", &RRJ{Header: Header{6}, Reason: RRJDuplicateAlias, DuplicateAliases: []h225.AliasAddress{h225.NewDialedDigits("1000")}}},
		{"URQ с причиной", &URQ{Header: Header{7}, EndpointIdentifier: "ep-1", Reason: URQTTLExpired, HasReason: true}},
		{"URJ", &URJ{Header: Header{7}, Reason: URJNotCurrentlyRegistered}},
		{"ARQ", &ARQ{
			Header:             Header{8},
			EndpointIdentifier: "ep-1",
			DestinationInfo:    []h225.AliasAddress{h225.NewDialedDigits("2000")},
			SrcInfo:            []h225.AliasAddress{h225.NewDialedDigits("1000")},
			BandWidth:          2560,
			CallIdentifier:     callID,
			ConferenceID:       h225.NewGUID(),
		}},
		{"ACF", &ACF{Header: Header{8}, BandWidth: 2560, DestCallSignalAddress: dst}},
		{"ARJ расширение", &ARJ{Header: Header{8}, Reason: ARJIncompleteAddress}},
		{"BRQ", &BRQ{Header: Header{9}, EndpointIdentifier: "ep-1", BandWidth: 640, CallIdentifier: callID}},
		{"BRJ", &BRJ{Header: Header{9}, Reason: BRJInsufficientResources, AllowedBandWidth: 100}},
		{"DRQ", &DRQ{Header: Header{10}, EndpointIdentifier: "ep-1", Reason: DisengageNormalDrop, CallIdentifier: callID}},
		{"DRJ", &DRJ{Header: Header{10}, Reason: DRJRequestToDropOther}},
		{"LRQ", &LRQ{Header: Header{11}, DestinationInfo: []h225.AliasAddress{h225.NewDialedDigits("2000")}, ReplyAddress: addr("10.0.0.3", 1719)}},
		{"LCF", &LCF{Header: Header{11}, CallSignalAddress: dst, RASAddress: addr("10.0.0.2", 1719)}},
		{"IRQ", &IRQ{Header: Header{12}, CallIdentifier: callID}},
		{"IRR", &IRR{
			Header:             Header{UnsolicitedIRRSeq},
			EndpointIdentifier: "ep-1",
			RASAddress:         addr("10.0.0.1", 1719),
			PerCallInfo:        []PerCallInfo{{CallIdentifier: callID, BandWidth: 2560, Originator: true}},
			NeedResponse:       true,
			Unsolicited:        true,
		}},
		{"RIP", &RIP{Header: Header{13}, Delay: 500}},
		{"IACK", &IACK{Header: Header{14}}},
		{"INAK", &INAK{Header: Header{15}, Reason: INAKNotRegistered}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.msg)
			require.NoError(t, err)
			out, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tt.msg.Type(), out.Type())
			assert.Equal(t, tt.msg.Seq(), out.Seq())
			assert.Equal(t, RejectReason(tt.msg), RejectReason(out))
		})
	}
}

func TestARQFields(t *testing.T) {
	src := addr("10.0.0.1", 1720)
	in := &ARQ{
		Header:               Header{42},
		EndpointIdentifier:   "ep-7",
		DestinationInfo:      []h225.AliasAddress{h225.NewDialedDigits("2000")},
		SrcInfo:              []h225.AliasAddress{h225.NewH323ID("alice")},
		SrcCallSignalAddress: &src,
		BandWidth:            2560,
		CallIdentifier:       h225.NewGUID(),
		AnswerCall:           true,
		Tokens:               []h225.Token{{OID: "0.0.8.235.0.2.1", Timestamp: 10, Hash: []byte{1, 2}}},
	}
	b, err := Encode(in)
	require.NoError(t, err)
	m, err := Decode(b)
	require.NoError(t, err)
	out := m.(*ARQ)

	assert.Equal(t, in.EndpointIdentifier, out.EndpointIdentifier)
	assert.Equal(t, in.DestinationInfo, out.DestinationInfo)
	assert.Equal(t, in.SrcInfo, out.SrcInfo)
	require.NotNil(t, out.SrcCallSignalAddress)
	assert.True(t, src.Equal(*out.SrcCallSignalAddress))
	assert.Nil(t, out.DestCallSignalAddress)
	assert.Equal(t, in.BandWidth, out.BandWidth)
	assert.Equal(t, in.CallIdentifier, out.CallIdentifier)
	assert.True(t, out.AnswerCall)
	assert.Equal(t, in.Tokens, out.Tokens)
}

func TestIRRPerCallInfo(t *testing.T) {
	id := h225.NewGUID()
	b, err := Encode(&IRR{
		Header:      Header{3},
		PerCallInfo: []PerCallInfo{{CallReferenceValue: 9, CallIdentifier: id, BandWidth: 640}},
	})
	require.NoError(t, err)
	m, err := Decode(b)
	require.NoError(t, err)
	irr := m.(*IRR)
	require.Len(t, irr.PerCallInfo, 1)
	assert.Equal(t, id, irr.PerCallInfo[0].CallIdentifier)
	assert.Equal(t, uint16(9), irr.PerCallInfo[0].CallReferenceValue)
	assert.False(t, irr.Unsolicited)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff})
	assert.Error(t, err)
	_, err = Decode(nil)
	assert.Error(t, err)
}

func TestSeqZeroRejected(t *testing.T) {
	_, err := Encode(&UCF{})
	assert.Error(t, err)
}
