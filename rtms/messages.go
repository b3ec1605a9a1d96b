// Package rtms implements the client side of the real-time media streaming protocol:
// a signaling socket that redirects to a media socket carrying base64 PCM frames.
package rtms

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// MsgType is the msg_type discriminator carried by every frame.
type MsgType int

const (
	MsgSignalingHandshakeReq  MsgType = 1
	MsgSignalingHandshakeResp MsgType = 2
	MsgDataHandshakeReq       MsgType = 3
	MsgDataHandshakeResp      MsgType = 4
	MsgClientReadyAck         MsgType = 7
	MsgKeepAliveReq           MsgType = 12
	MsgKeepAliveResp          MsgType = 13
	MsgMediaDataAudio         MsgType = 14
)

// StatusOK is the status_code of a successful handshake.
const StatusOK = 0

// ProtocolVersion sent in both handshakes.
const ProtocolVersion = 1

// Media parameter enums as the media endpoint understands them.
const (
	MediaTypeAudio      = 1
	AudioContentTypeRTP = 1
	AudioSampleRate16K  = 1
	AudioChannelMono    = 1
	AudioCodecL16       = 1
	AudioDataOptMixed   = 1
	AudioSendIntervalMs = 1000
)

type envelope struct {
	MsgType MsgType `json:"msg_type"`
}

type signalingHandshakeReq struct {
	MsgType         MsgType `json:"msg_type"`
	ProtocolVersion int     `json:"protocol_version"`
	SessionID       string  `json:"session_id"`
	StreamID        string  `json:"rtms_stream_id"`
	Sequence        int64   `json:"sequence"`
	Signature       string  `json:"signature"`
}

type serverURLs struct {
	Audio      string `json:"audio"`
	Video      string `json:"video"`
	Transcript string `json:"transcript"`
	All        string `json:"all"`
}

type signalingHandshakeResp struct {
	MsgType     MsgType `json:"msg_type"`
	StatusCode  int     `json:"status_code"`
	Reason      string  `json:"reason"`
	MediaServer struct {
		ServerURLs serverURLs `json:"server_urls"`
	} `json:"media_server"`
}

// audioURL prefers the audio-only endpoint and falls back to the combined one.
func (r signalingHandshakeResp) audioURL() string {
	if r.MediaServer.ServerURLs.Audio != "" {
		return r.MediaServer.ServerURLs.Audio
	}
	return r.MediaServer.ServerURLs.All
}

type audioParams struct {
	ContentType int `json:"content_type"`
	SampleRate  int `json:"sample_rate"`
	Channel     int `json:"channel"`
	Codec       int `json:"codec"`
	DataOpt     int `json:"data_opt"`
	SendRate    int `json:"send_rate"`
}

type mediaParams struct {
	Audio audioParams `json:"audio"`
}

type dataHandshakeReq struct {
	MsgType           MsgType     `json:"msg_type"`
	ProtocolVersion   int         `json:"protocol_version"`
	Sequence          int64       `json:"sequence"`
	SessionID         string      `json:"session_id"`
	StreamID          string      `json:"rtms_stream_id"`
	Signature         string      `json:"signature"`
	MediaType         int         `json:"media_type"`
	PayloadEncryption bool        `json:"payload_encryption"`
	MediaParams       mediaParams `json:"media_params"`
}

type dataHandshakeResp struct {
	MsgType    MsgType `json:"msg_type"`
	StatusCode int     `json:"status_code"`
	Reason     string  `json:"reason"`
}

type clientReadyAck struct {
	MsgType    MsgType `json:"msg_type"`
	StreamID   string  `json:"rtms_stream_id"`
	StatusCode int     `json:"status_code"`
	Reason     string  `json:"reason"`
}

type keepAlive struct {
	MsgType   MsgType `json:"msg_type"`
	Timestamp int64   `json:"timestamp"`
}

type audioData struct {
	MsgType MsgType `json:"msg_type"`
	Content struct {
		UserID    int64  `json:"user_id"`
		UserName  string `json:"user_name"`
		Data      string `json:"data"`
		Timestamp int64  `json:"timestamp"`
	} `json:"content"`
}

func newDataHandshake(sessionID, streamID, signature string) dataHandshakeReq {
	return dataHandshakeReq{
		MsgType:           MsgDataHandshakeReq,
		ProtocolVersion:   ProtocolVersion,
		Sequence:          0,
		SessionID:         sessionID,
		StreamID:          streamID,
		Signature:         signature,
		MediaType:         MediaTypeAudio,
		PayloadEncryption: false,
		MediaParams: mediaParams{Audio: audioParams{
			ContentType: AudioContentTypeRTP,
			SampleRate:  AudioSampleRate16K,
			Channel:     AudioChannelMono,
			Codec:       AudioCodecL16,
			DataOpt:     AudioDataOptMixed,
			SendRate:    AudioSendIntervalMs,
		}},
	}
}

// decode parses data into v, tagging failures as malformed.
func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(types.ErrMalformedMessage, err.Error())
	}
	return nil
}
