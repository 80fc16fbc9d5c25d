package h245

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

// ErrNoMedia в SDP нет ни одного поддерживаемого медиаописания
var ErrNoMedia = errors.New("h245: sdp has no usable media")

// CapabilitiesFromSDP строит список возможностей из SDP описания медиаподсистемы.
// Форматы берутся из rtpmap, для статических payload type без rtpmap
// используются известные форматы. Направление определяется атрибутами
// sendonly/recvonly/sendrecv.
func CapabilitiesFromSDP(raw []byte) ([]Capability, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(raw); err != nil {
		return nil, errors.Wrap(err, "parse sdp")
	}

	var caps []Capability
	for _, media := range desc.MediaDescriptions {
		kind, ok := kindFromMedia(media.MediaName.Media)
		if !ok {
			continue
		}
		dir := directionFromAttributes(media.Attributes)

		rtpmap := make(map[string]string)
		for _, attr := range media.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			parts := strings.SplitN(attr.Value, " ", 2)
			if len(parts) == 2 {
				rtpmap[parts[0]] = parts[1]
			}
		}

		for _, format := range media.MediaName.Formats {
			f, ok := formatFromRtpmap(format, rtpmap[format])
			if !ok {
				continue
			}
			k := kind
			if strings.EqualFold(f.Name, FormatUserInput.Name) {
				k = KindUserInput
			}
			caps = append(caps, Capability{Kind: k, Format: f, Direction: dir})
		}
	}
	if len(caps) == 0 {
		return nil, ErrNoMedia
	}
	return caps, nil
}

// SDPFromCapabilities формирует SDP предложение для медиаподсистемы:
// одно медиаописание на каждый тип медиа с указанным портом.
func SDPFromCapabilities(caps []Capability, host string, ports map[Kind]int) *sdp.SessionDescription {
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    addressType(host),
			UnicastAddress: host,
		},
		SessionName: "h323",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType(host),
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
	}

	byMedia := make(map[string]*sdp.MediaDescription)
	var order []string
	for _, c := range caps {
		mediaKind := c.Kind
		if mediaKind == KindUserInput {
			mediaKind = KindAudio
		}
		name, ok := mediaName(mediaKind)
		if !ok {
			continue
		}
		md, exists := byMedia[name]
		if !exists {
			md = &sdp.MediaDescription{
				MediaName: sdp.MediaName{
					Media:  name,
					Port:   sdp.RangedPort{Value: ports[mediaKind]},
					Protos: []string{"RTP", "AVP"},
				},
			}
			byMedia[name] = md
			order = append(order, name)
		}
		switch {
		case c.Format.ClockRate > 0:
			md.WithCodec(c.Format.PayloadType, c.Format.Name, c.Format.ClockRate, 0, "")
		case c.Kind == KindFax:
			md.MediaName.Formats = append(md.MediaName.Formats, "t38")
		default:
			md.MediaName.Formats = append(md.MediaName.Formats, strconv.Itoa(int(c.Format.PayloadType)))
		}
	}
	for _, name := range order {
		desc.MediaDescriptions = append(desc.MediaDescriptions, byMedia[name])
	}
	return desc
}

func addressType(host string) string {
	if strings.Contains(host, ":") {
		return "IP6"
	}
	return "IP4"
}

func kindFromMedia(media string) (Kind, bool) {
	switch media {
	case "audio":
		return KindAudio, true
	case "video":
		return KindVideo, true
	case "application":
		return KindData, true
	case "image":
		return KindFax, true
	}
	return 0, false
}

func mediaName(k Kind) (string, bool) {
	switch k {
	case KindAudio:
		return "audio", true
	case KindVideo:
		return "video", true
	case KindData:
		return "application", true
	case KindFax:
		return "image", true
	}
	return "", false
}

func directionFromAttributes(attrs []sdp.Attribute) Direction {
	for _, attr := range attrs {
		switch attr.Key {
		case "sendonly":
			return DirTransmit
		case "recvonly":
			return DirReceive
		}
	}
	return DirReceiveAndTransmit
}

var staticFormats = map[string]MediaFormat{
	"0":  FormatPCMU,
	"3":  FormatGSM,
	"8":  FormatPCMA,
	"9":  FormatG722,
	"18": FormatG729,
	"31": FormatH261,
	"34": FormatH263,
}

func formatFromRtpmap(pt, rtpmap string) (MediaFormat, bool) {
	if rtpmap == "" {
		if f, ok := staticFormats[pt]; ok {
			return f, true
		}
		if pt == "t38" {
			return FormatT38, true
		}
		return MediaFormat{}, false
	}
	n, err := strconv.Atoi(pt)
	if err != nil || n < 0 || n > 127 {
		return MediaFormat{}, false
	}
	parts := strings.Split(rtpmap, "/")
	f := MediaFormat{Name: parts[0], PayloadType: uint8(n)}
	if len(parts) > 1 {
		if rate, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
			f.ClockRate = uint32(rate)
		}
	}
	for _, known := range []MediaFormat{FormatPCMU, FormatPCMA, FormatG722, FormatG729, FormatGSM, FormatH261, FormatH263, FormatH264, FormatUserInput} {
		if strings.EqualFold(known.Name, f.Name) {
			f.FramesPerPacket = known.FramesPerPacket
			f.MaxBitRate = known.MaxBitRate
			break
		}
	}
	return f, true
}
