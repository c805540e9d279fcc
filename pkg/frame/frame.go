// Package frame описывает медиа кадры, которые каналы передают через мост.
//
// Кадр - единица передачи между каналом и технологией моста. Голос и видео
// переносятся как RTP пакеты (github.com/pion/rtp), DTMF - как цифра и
// длительность, управляющие кадры - как код события.
package frame

import (
	"fmt"
	"time"

	"github.com/pion/rtp"
)

// Type тип кадра
type Type int

const (
	// TypeVoice - голосовой кадр
	TypeVoice Type = iota + 1
	// TypeVideo - видео кадр
	TypeVideo
	// TypeDTMFBegin - начало DTMF цифры
	TypeDTMFBegin
	// TypeDTMFEnd - конец DTMF цифры
	TypeDTMFEnd
	// TypeControl - управляющий кадр (hangup, hold, запрос ключевого кадра)
	TypeControl
	// TypeText - текстовое сообщение
	TypeText
	// TypeNull - пустой кадр, используется для пробуждения
	TypeNull
)

// String возвращает строковое представление типа кадра
func (t Type) String() string {
	switch t {
	case TypeVoice:
		return "voice"
	case TypeVideo:
		return "video"
	case TypeDTMFBegin:
		return "dtmf_begin"
	case TypeDTMFEnd:
		return "dtmf_end"
	case TypeControl:
		return "control"
	case TypeText:
		return "text"
	case TypeNull:
		return "null"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ControlType код управляющего кадра
type ControlType int

const (
	ControlHangup ControlType = iota + 1
	ControlHold
	ControlUnhold
	ControlVideoUpdate // запрос ключевого кадра у источника видео
	ControlSrcChange
)

// String возвращает строковое представление управляющего кода
func (c ControlType) String() string {
	switch c {
	case ControlHangup:
		return "hangup"
	case ControlHold:
		return "hold"
	case ControlUnhold:
		return "unhold"
	case ControlVideoUpdate:
		return "video_update"
	case ControlSrcChange:
		return "src_change"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Frame медиа кадр.
//
// После постановки в очередь кадр принадлежит получателю: отправитель не
// должен его изменять. Для раздачи нескольким участникам используйте Clone.
type Frame struct {
	Type    Type
	Packet  *rtp.Packet // для голоса и видео
	Digit   DTMFDigit   // для DTMF
	Control ControlType // для управляющих кадров
	Text    string

	// Duration длительность DTMF цифры или голосового фрагмента
	Duration time.Duration

	// Energy уровень речи отправителя (используется при выборе источника видео)
	Energy int
	// Keyframe кадр видео является ключевым
	Keyframe bool

	// Src имя канала, от которого пришел кадр
	Src string
}

// NewVoice создает голосовой кадр
func NewVoice(pkt *rtp.Packet) *Frame {
	return &Frame{Type: TypeVoice, Packet: pkt}
}

// NewVideo создает видео кадр
func NewVideo(pkt *rtp.Packet, keyframe bool) *Frame {
	return &Frame{Type: TypeVideo, Packet: pkt, Keyframe: keyframe}
}

// NewDTMF создает кадр начала или конца DTMF цифры
func NewDTMF(t Type, digit DTMFDigit, duration time.Duration) *Frame {
	return &Frame{Type: t, Digit: digit, Duration: duration}
}

// NewControl создает управляющий кадр
func NewControl(c ControlType) *Frame {
	return &Frame{Type: TypeControl, Control: c}
}

// NewText создает текстовый кадр
func NewText(text string) *Frame {
	return &Frame{Type: TypeText, Text: text}
}

// IsDTMF возвращает true для кадров начала и конца DTMF
func (f *Frame) IsDTMF() bool {
	return f.Type == TypeDTMFBegin || f.Type == TypeDTMFEnd
}

// IsMedia возвращает true для голоса и видео
func (f *Frame) IsMedia() bool {
	return f.Type == TypeVoice || f.Type == TypeVideo
}

// Clone создает глубокую копию кадра вместе с RTP пакетом
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	if f.Packet != nil {
		c.Packet = f.Packet.Clone()
	}
	return &c
}

// String возвращает краткое описание кадра для логов
func (f *Frame) String() string {
	switch f.Type {
	case TypeDTMFBegin, TypeDTMFEnd:
		return fmt.Sprintf("%s(%s)", f.Type, f.Digit)
	case TypeControl:
		return fmt.Sprintf("%s(%s)", f.Type, f.Control)
	case TypeVoice, TypeVideo:
		if f.Packet != nil {
			return fmt.Sprintf("%s(pt=%d seq=%d)", f.Type, f.Packet.PayloadType, f.Packet.SequenceNumber)
		}
	}
	return f.Type.String()
}
