package frame

import (
	"fmt"
	"time"

	"github.com/pion/rtp"
)

// DTMFDigit DTMF цифра в кодировке событий RFC 4733
type DTMFDigit uint8

const (
	DTMF0     DTMFDigit = 0
	DTMF1     DTMFDigit = 1
	DTMF2     DTMFDigit = 2
	DTMF3     DTMFDigit = 3
	DTMF4     DTMFDigit = 4
	DTMF5     DTMFDigit = 5
	DTMF6     DTMFDigit = 6
	DTMF7     DTMFDigit = 7
	DTMF8     DTMFDigit = 8
	DTMF9     DTMFDigit = 9
	DTMFStar  DTMFDigit = 10 // *
	DTMFPound DTMFDigit = 11 // #
	DTMFA     DTMFDigit = 12
	DTMFB     DTMFDigit = 13
	DTMFC     DTMFDigit = 14
	DTMFD     DTMFDigit = 15
)

const dtmfSymbols = "0123456789*#ABCD"

// DefaultDTMFDuration длительность цифры при потоковой передаче
const DefaultDTMFDuration = 100 * time.Millisecond

func (d DTMFDigit) String() string {
	if int(d) < len(dtmfSymbols) {
		return string(dtmfSymbols[d])
	}
	return "?"
}

// Rune возвращает символ цифры
func (d DTMFDigit) Rune() rune {
	if int(d) < len(dtmfSymbols) {
		return rune(dtmfSymbols[d])
	}
	return '?'
}

// ParseDTMFDigit преобразует символ в DTMF цифру.
// Буквы A-D принимаются в любом регистре.
func ParseDTMFDigit(r rune) (DTMFDigit, error) {
	if r >= 'a' && r <= 'd' {
		r -= 'a' - 'A'
	}
	for i, s := range dtmfSymbols {
		if s == r {
			return DTMFDigit(i), nil
		}
	}
	return 0, fmt.Errorf("некорректный DTMF символ %q", r)
}

// ParseDTMFString разбирает строку цифр, например "123#"
func ParseDTMFString(s string) ([]DTMFDigit, error) {
	digits := make([]DTMFDigit, 0, len(s))
	for _, r := range s {
		d, err := ParseDTMFDigit(r)
		if err != nil {
			return nil, err
		}
		digits = append(digits, d)
	}
	return digits, nil
}

// DTMFFrames строит последовательность кадров begin/end для строки цифр
func DTMFFrames(s string, duration time.Duration) ([]*Frame, error) {
	digits, err := ParseDTMFString(s)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = DefaultDTMFDuration
	}
	frames := make([]*Frame, 0, len(digits)*2)
	for _, d := range digits {
		frames = append(frames,
			NewDTMF(TypeDTMFBegin, d, 0),
			NewDTMF(TypeDTMFEnd, d, duration))
	}
	return frames, nil
}

// DTMFEncoder упаковывает DTMF кадры в RTP пакеты telephone-event (RFC 4733)
type DTMFEncoder struct {
	payloadType uint8
	ssrc        uint32
	seqNum      uint16
	clockRate   uint32
}

// NewDTMFEncoder создает кодировщик для указанного payload type
func NewDTMFEncoder(payloadType uint8, ssrc uint32) *DTMFEncoder {
	return &DTMFEncoder{
		payloadType: payloadType,
		ssrc:        ssrc,
		clockRate:   8000,
	}
}

// Encode возвращает пакеты события: три начальных и три завершающих.
func (e *DTMFEncoder) Encode(digit DTMFDigit, duration time.Duration, timestamp uint32) ([]*rtp.Packet, error) {
	if digit > DTMFD {
		return nil, fmt.Errorf("некорректная DTMF цифра %d", digit)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("длительность DTMF должна быть положительной")
	}

	samples := uint16(duration.Seconds() * float64(e.clockRate))
	packets := make([]*rtp.Packet, 0, 6)
	for i := 0; i < 6; i++ {
		end := i >= 3
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    e.payloadType,
				SequenceNumber: e.seqNum,
				Timestamp:      timestamp,
				SSRC:           e.ssrc,
			},
			Payload: encodeEvent(digit, end, 10, samples),
		})
		e.seqNum++
	}
	return packets, nil
}

// EncodeFrame упаковывает DTMF кадр; для begin возвращаются только начальные пакеты
func (e *DTMFEncoder) EncodeFrame(f *Frame, timestamp uint32) ([]*rtp.Packet, error) {
	if !f.IsDTMF() {
		return nil, fmt.Errorf("кадр %s не является DTMF", f.Type)
	}
	duration := f.Duration
	if duration <= 0 {
		duration = DefaultDTMFDuration
	}
	packets, err := e.Encode(f.Digit, duration, timestamp)
	if err != nil {
		return nil, err
	}
	if f.Type == TypeDTMFBegin {
		return packets[:3], nil
	}
	return packets[3:], nil
}

// DecodeDTMF извлекает кадр из RTP пакета telephone-event
func DecodeDTMF(pkt *rtp.Packet) (*Frame, error) {
	if len(pkt.Payload) < 4 {
		return nil, fmt.Errorf("некорректный размер DTMF payload: %d", len(pkt.Payload))
	}
	digit := DTMFDigit(pkt.Payload[0] & 0x0F)
	end := pkt.Payload[1]&0x80 != 0
	samples := uint16(pkt.Payload[2])<<8 | uint16(pkt.Payload[3])

	t := TypeDTMFBegin
	if end {
		t = TypeDTMFEnd
	}
	return NewDTMF(t, digit, time.Duration(samples)*time.Second/8000), nil
}

// encodeEvent сериализует payload события: event, E|R|volume, duration
func encodeEvent(digit DTMFDigit, end bool, volume uint8, duration uint16) []byte {
	data := make([]byte, 4)
	data[0] = uint8(digit) & 0x0F
	if end {
		data[1] |= 0x80
	}
	data[1] |= volume & 0x3F
	data[2] = byte(duration >> 8)
	data[3] = byte(duration)
	return data
}
