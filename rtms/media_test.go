package rtms

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/metrics"
	"github.com/mrsingh-rishi/rtms-scribe/signer"
	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// mediaRecorder is both the sink and the handler, logging calls in order.
type mediaRecorder struct {
	mu       sync.Mutex
	events   []string
	audio    bytes.Buffer
	ackErr   error
	closeErr chan error
}

func newMediaRecorder() *mediaRecorder {
	return &mediaRecorder{closeErr: make(chan error, 4)}
}

func (r *mediaRecorder) Append(p []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "audio")
	r.audio.Write(p)
	return true
}

func (r *mediaRecorder) OnMediaAcked() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "ready_ack")
	return r.ackErr
}

func (r *mediaRecorder) OnMediaClosed(err error) { r.closeErr <- err }

func (r *mediaRecorder) snapshot() ([]string, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]byte(nil), r.audio.Bytes()...)
}

func startMedia(t *testing.T, p *peer, rec *mediaRecorder) *MediaChannel {
	t.Helper()
	m := NewMediaChannel(ChannelConfig{
		URL:              p.url(),
		SessionID:        "sess-1",
		StreamID:         "stream-1",
		Credentials:      testCreds,
		HandshakeTimeout: time.Second,
	}, rec, rec, discardLogger(), metrics.NewNop())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Handshake(); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func audioFrame(pcm []byte) map[string]interface{} {
	return map[string]interface{}{
		"msg_type": 14,
		"content": map[string]interface{}{
			"user_id":   16778240,
			"user_name": "User-1",
			"data":      base64.StdEncoding.EncodeToString(pcm),
			"timestamp": 1700000000000,
		},
	}
}

// syncKeepAlive round-trips a keep-alive request so every earlier frame has been handled.
func syncKeepAlive(t *testing.T, remote interface {
	WriteJSON(interface{}) error
}, read func() map[string]interface{}, ts int) {
	t.Helper()
	if err := remote.WriteJSON(map[string]interface{}{"msg_type": 12, "timestamp": ts}); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	reply := read()
	if msgType(reply) != int(MsgKeepAliveResp) || reply["timestamp"] != float64(ts) {
		t.Fatalf("keep-alive reply = %v", reply)
	}
}

func TestMediaHandshakeMessage(t *testing.T) {
	p := newPeer(t)
	startMedia(t, p, newMediaRecorder())
	remote := p.accept(t)

	req := readJSON(t, remote)
	wantSig, _ := signer.HandshakeSignature("client", "sess-1", "stream-1", "secret")
	if msgType(req) != int(MsgDataHandshakeReq) || req["signature"] != wantSig ||
		req["session_id"] != "sess-1" || req["rtms_stream_id"] != "stream-1" {
		t.Fatalf("handshake = %v", req)
	}
	if req["sequence"] != float64(0) || req["media_type"] != float64(MediaTypeAudio) || req["payload_encryption"] != false {
		t.Errorf("handshake header = %v", req)
	}
	audio := req["media_params"].(map[string]interface{})["audio"].(map[string]interface{})
	for field, want := range map[string]float64{
		"content_type": AudioContentTypeRTP,
		"sample_rate":  AudioSampleRate16K,
		"channel":      AudioChannelMono,
		"codec":        AudioCodecL16,
		"data_opt":     AudioDataOptMixed,
		"send_rate":    AudioSendIntervalMs,
	} {
		if audio[field] != want {
			t.Errorf("audio.%s = %v, want %v", field, audio[field], want)
		}
	}
}

func TestMediaStreamsAudioAfterReadyAck(t *testing.T) {
	p := newPeer(t)
	rec := newMediaRecorder()
	m := startMedia(t, p, rec)
	remote := p.accept(t)
	readJSON(t, remote)
	read := func() map[string]interface{} { return readJSON(t, remote) }

	sendJSON(t, remote, audioFrame([]byte{9, 9}))
	sendJSON(t, remote, map[string]interface{}{"msg_type": 4, "status_code": 0})
	sendJSON(t, remote, audioFrame([]byte{1, 2, 3}))
	sendJSON(t, remote, audioFrame([]byte{4, 5}))
	syncKeepAlive(t, remote, read, 42)

	events, pcm := rec.snapshot()
	if len(events) != 3 || events[0] != "ready_ack" || events[1] != "audio" || events[2] != "audio" {
		t.Fatalf("events = %v, want one ready_ack before audio", events)
	}
	if !bytes.Equal(pcm, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("pcm = %v", pcm)
	}
	if m.State() != MediaStreaming {
		t.Errorf("state = %s, want streaming", m.State())
	}

	sendJSON(t, remote, map[string]interface{}{"msg_type": 4, "status_code": 0})
	syncKeepAlive(t, remote, read, 43)
	if events, _ := rec.snapshot(); len(events) != 3 {
		t.Errorf("duplicate ack re-sent ready ack: %v", events)
	}
}

func TestMediaMalformedFramesKeepConnection(t *testing.T) {
	p := newPeer(t)
	rec := newMediaRecorder()
	startMedia(t, p, rec)
	remote := p.accept(t)
	readJSON(t, remote)
	read := func() map[string]interface{} { return readJSON(t, remote) }

	sendJSON(t, remote, map[string]interface{}{"msg_type": 4, "status_code": 0})
	sendJSON(t, remote, audioFrame([]byte{1}))
	sendRaw(t, remote, `{"msg_type":14,"content":{"data":"%%%not-base64"}}`)
	sendRaw(t, remote, `{"msg_type":14,"content":"oops"}`)
	sendRaw(t, remote, "garbage")
	sendJSON(t, remote, audioFrame([]byte{2}))
	syncKeepAlive(t, remote, read, 1)

	_, pcm := rec.snapshot()
	if !bytes.Equal(pcm, []byte{1, 2}) {
		t.Errorf("pcm = %v, want accumulated audio intact", pcm)
	}
	select {
	case err := <-rec.closeErr:
		t.Fatalf("channel closed on malformed input: %v", err)
	default:
	}
}

func TestMediaHandshakeRejected(t *testing.T) {
	p := newPeer(t)
	rec := newMediaRecorder()
	m := startMedia(t, p, rec)
	remote := p.accept(t)
	readJSON(t, remote)

	sendJSON(t, remote, map[string]interface{}{"msg_type": 4, "status_code": 2, "reason": "denied"})
	if err := expectErr(t, rec.closeErr); !errors.Is(err, types.ErrHandshakeFailed) {
		t.Fatalf("err = %v, want ErrHandshakeFailed", err)
	}
	if events, _ := rec.snapshot(); len(events) != 0 {
		t.Errorf("events = %v, want none", events)
	}
	if m.State() != MediaErrored {
		t.Errorf("state = %s", m.State())
	}
}

func TestMediaCloseBeforeAck(t *testing.T) {
	p := newPeer(t)
	rec := newMediaRecorder()
	startMedia(t, p, rec)
	remote := p.accept(t)
	readJSON(t, remote)
	remote.Close()

	if err := expectErr(t, rec.closeErr); !errors.Is(err, types.ErrHandshakeFailed) {
		t.Fatalf("err = %v, want ErrHandshakeFailed", err)
	}
}

func TestMediaCloseAfterStreaming(t *testing.T) {
	p := newPeer(t)
	rec := newMediaRecorder()
	m := startMedia(t, p, rec)
	remote := p.accept(t)
	readJSON(t, remote)
	sendJSON(t, remote, map[string]interface{}{"msg_type": 4, "status_code": 0})
	syncKeepAlive(t, remote, func() map[string]interface{} { return readJSON(t, remote) }, 5)
	remote.Close()

	if err := expectErr(t, rec.closeErr); !errors.Is(err, types.ErrStreamEnded) {
		t.Fatalf("err = %v, want ErrStreamEnded", err)
	}
	<-m.Done()
	if m.State() != MediaClosed {
		t.Errorf("state = %s, want closed", m.State())
	}
}

func TestMediaReadyAckFailure(t *testing.T) {
	p := newPeer(t)
	rec := newMediaRecorder()
	rec.ackErr = errors.Wrap(types.ErrConnectionLost, "signaling gone")
	m := startMedia(t, p, rec)
	remote := p.accept(t)
	readJSON(t, remote)

	sendJSON(t, remote, map[string]interface{}{"msg_type": 4, "status_code": 0})

	if err := expectErr(t, rec.closeErr); !errors.Is(err, types.ErrConnectionLost) {
		t.Fatalf("err = %v, want ErrConnectionLost", err)
	}
	<-m.Done()
	if m.State() != MediaErrored {
		t.Errorf("state = %s, want errored", m.State())
	}
}
