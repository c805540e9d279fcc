package frame

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameClone(t *testing.T) {
	orig := NewVoice(&rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 0, SequenceNumber: 10},
		Payload: []byte{1, 2, 3},
	})
	orig.Energy = 42

	c := orig.Clone()
	require.NotNil(t, c)
	require.NotSame(t, orig.Packet, c.Packet)
	assert.Equal(t, orig.Energy, c.Energy)

	c.Packet.Payload[0] = 9
	assert.Equal(t, byte(1), orig.Packet.Payload[0], "копия не должна разделять payload")

	var nilFrame *Frame
	assert.Nil(t, nilFrame.Clone())
}

func TestFrameKinds(t *testing.T) {
	assert.True(t, NewDTMF(TypeDTMFBegin, DTMF1, 0).IsDTMF())
	assert.True(t, NewVideo(&rtp.Packet{}, true).IsMedia())
	assert.False(t, NewControl(ControlHangup).IsMedia())
	assert.Equal(t, "control(hangup)", NewControl(ControlHangup).String())
	assert.Equal(t, "dtmf_end(#)", NewDTMF(TypeDTMFEnd, DTMFPound, 0).String())
}

func TestParseDTMF(t *testing.T) {
	digits, err := ParseDTMFString("12*#ad")
	require.NoError(t, err)
	assert.Equal(t, []DTMFDigit{DTMF1, DTMF2, DTMFStar, DTMFPound, DTMFA, DTMFD}, digits)

	_, err = ParseDTMFString("12x")
	assert.Error(t, err)

	assert.Equal(t, '#', DTMFPound.Rune())
	assert.Equal(t, "?", DTMFDigit(20).String())
}

func TestDTMFFrames(t *testing.T) {
	frames, err := DTMFFrames("5#", 0)
	require.NoError(t, err)
	require.Len(t, frames, 4)

	assert.Equal(t, TypeDTMFBegin, frames[0].Type)
	assert.Equal(t, DTMF5, frames[0].Digit)
	assert.Equal(t, TypeDTMFEnd, frames[1].Type)
	assert.Equal(t, DefaultDTMFDuration, frames[1].Duration)
	assert.Equal(t, DTMFPound, frames[3].Digit)
}

func TestDTMFEncodeDecode(t *testing.T) {
	enc := NewDTMFEncoder(101, 0x1234)

	packets, err := enc.Encode(DTMF7, 100*time.Millisecond, 16000)
	require.NoError(t, err)
	require.Len(t, packets, 6)

	assert.True(t, packets[0].Marker)
	assert.False(t, packets[1].Marker)
	for i, p := range packets {
		assert.Equal(t, uint8(101), p.PayloadType)
		assert.Equal(t, uint16(i), p.SequenceNumber)
		assert.Equal(t, uint32(0x1234), p.SSRC)
	}

	begin, err := DecodeDTMF(packets[0])
	require.NoError(t, err)
	assert.Equal(t, TypeDTMFBegin, begin.Type)
	assert.Equal(t, DTMF7, begin.Digit)

	end, err := DecodeDTMF(packets[5])
	require.NoError(t, err)
	assert.Equal(t, TypeDTMFEnd, end.Type)
	assert.Equal(t, 100*time.Millisecond, end.Duration)

	_, err = enc.Encode(DTMF1, 0, 0)
	assert.Error(t, err)

	_, err = DecodeDTMF(&rtp.Packet{Payload: []byte{1}})
	assert.Error(t, err)
}

func TestDTMFEncodeFrame(t *testing.T) {
	enc := NewDTMFEncoder(101, 1)

	begin, err := enc.EncodeFrame(NewDTMF(TypeDTMFBegin, DTMF3, 0), 0)
	require.NoError(t, err)
	assert.Len(t, begin, 3)

	end, err := enc.EncodeFrame(NewDTMF(TypeDTMFEnd, DTMF3, 0), 0)
	require.NoError(t, err)
	require.Len(t, end, 3)
	assert.NotZero(t, end[0].Payload[1]&0x80)

	_, err = enc.EncodeFrame(NewText("x"), 0)
	assert.Error(t, err)
}
