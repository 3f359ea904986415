package signaling

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// payloadTypeCodec maps the static RFC 3551 payload types this bridge
// recognizes by name, per the RTP wire format codec table.
var payloadTypeCodec = map[string]string{
	"0":  "PCMU",
	"8":  "PCMA",
	"9":  "G722",
	"18": "G729",
}

var codecPayloadType = map[string]string{
	"PCMU": "0",
	"PCMA": "8",
	"G722": "9",
	"G729": "18",
}

// offerInfo is what the adapter needs out of an inbound SDP offer:
// the chosen codec, where to send RTP, and whether the peer advertised
// RFC 2833 telephone-event support.
type offerInfo struct {
	Codec         string
	RemoteHost    string
	RemotePort    int
	TelephoneEvPT string
}

// parseOffer extracts codec and transport details from an SDP offer body.
// It picks the first media format this bridge recognizes from
// payloadTypeCodec; unrecognized-only offers return an error so the
// adapter can reject the call instead of guessing a codec.
func parseOffer(body []byte) (offerInfo, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return offerInfo{}, fmt.Errorf("signaling: parse sdp offer: %w", err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return offerInfo{}, fmt.Errorf("signaling: sdp offer has no media descriptions")
	}
	media := desc.MediaDescriptions[0]

	host := ""
	if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
		host = media.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		host = desc.ConnectionInformation.Address.Address
	}
	if host == "" {
		return offerInfo{}, fmt.Errorf("signaling: sdp offer has no connection address")
	}

	info := offerInfo{RemoteHost: host, RemotePort: int(media.MediaName.Port.Value)}
	for _, fmtID := range media.MediaName.Formats {
		if name, ok := payloadTypeCodec[fmtID]; ok && info.Codec == "" {
			info.Codec = name
		}
	}
	if info.Codec == "" {
		return offerInfo{}, fmt.Errorf("signaling: no recognized codec in sdp offer formats %v", media.MediaName.Formats)
	}

	for _, attr := range media.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		if !strings.Contains(attr.Value, "telephone-event") {
			continue
		}
		parts := strings.SplitN(attr.Value, " ", 2)
		if len(parts) > 0 {
			info.TelephoneEvPT = parts[0]
		}
	}
	return info, nil
}

// buildAnswer constructs an SDP answer that accepts codec on localHost's
// localPort, echoing telephoneEvPT back when the offer supported it.
func buildAnswer(localHost string, localPort int, codec, telephoneEvPT string) ([]byte, error) {
	pt, ok := codecPayloadType[codec]
	if !ok {
		return nil, fmt.Errorf("signaling: unsupported codec for sdp answer: %s", codec)
	}

	formats := []string{pt}
	attributes := []sdp.Attribute{
		{Key: "rtpmap", Value: fmt.Sprintf("%s %s/8000", pt, codec)},
		{Key: "ptime", Value: "20"},
		{Key: "sendrecv"},
	}
	if telephoneEvPT != "" {
		formats = append(formats, telephoneEvPT)
		attributes = append(attributes, sdp.Attribute{
			Key:   "rtpmap",
			Value: fmt.Sprintf("%s telephone-event/8000", telephoneEvPT),
		})
	}

	sessionID := uint64(time.Now().UnixNano())
	answer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localHost,
		},
		SessionName: "voicebridge",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: localHost},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: localPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attributes,
			},
		},
	}

	return answer.Marshal()
}
