// Package channel содержит локальную реализацию канала для моста.
//
// Local - медиа endpoint в памяти: входящие кадры подаются через Inject,
// исходящие накапливаются и доступны через Written. Используется демоном
// bridged и тестами ядра моста.
package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/frame"
)

// ErrHungup канал уже завершен
var ErrHungup = errors.New("канал завершен")

// DefaultInboundBuffer размер буфера входящих кадров
const DefaultInboundBuffer = 64

// Local канал в памяти
type Local struct {
	name string

	// lock канала, отдаваемый ядру моста через Lock/Unlock
	lock sync.Mutex

	mu          sync.Mutex
	native      []frame.Format
	readFormat  frame.Format
	writeFormat frame.Format
	written     []*frame.Frame
	onWrite     func(*frame.Frame)

	inbound    chan *frame.Frame
	hangup     chan struct{}
	hangupOnce sync.Once

	log *logrus.Entry
}

// NewLocal создает канал с указанными родными форматами.
// Первый аудио формат становится форматом чтения и записи.
func NewLocal(name string, formats ...frame.Format) *Local {
	if len(formats) == 0 {
		formats = []frame.Format{frame.FormatPCMU}
	}
	l := &Local{
		name:    name,
		native:  append([]frame.Format(nil), formats...),
		inbound: make(chan *frame.Frame, DefaultInboundBuffer),
		hangup:  make(chan struct{}),
		log:     logrus.WithFields(logrus.Fields{"component": "channel", "channel": name}),
	}
	if f, ok := frame.FirstOfKind(formats, frame.KindAudio); ok {
		l.readFormat = f
		l.writeFormat = f
	}
	return l
}

// NewLocalFromSDP создает канал, форматы которого взяты из SDP описания
func NewLocalFromSDP(name string, body []byte) (*Local, error) {
	formats, err := frame.FormatsFromSDP(body)
	if err != nil {
		return nil, fmt.Errorf("канал %s: %w", name, err)
	}
	return NewLocal(name, formats...), nil
}

// Name возвращает имя канала
func (l *Local) Name() string { return l.name }

// Lock блокирует канал
func (l *Local) Lock() { l.lock.Lock() }

// Unlock разблокирует канал
func (l *Local) Unlock() { l.lock.Unlock() }

// Frames возвращает канал входящих кадров
func (l *Local) Frames() <-chan *frame.Frame { return l.inbound }

// HangupC закрывается при завершении канала
func (l *Local) HangupC() <-chan struct{} { return l.hangup }

// Hangup завершает канал. Повторные вызовы игнорируются.
func (l *Local) Hangup() {
	l.hangupOnce.Do(func() {
		close(l.hangup)
		l.log.Debug("канал завершен")
	})
}

// IsHungup возвращает true после Hangup
func (l *Local) IsHungup() bool {
	select {
	case <-l.hangup:
		return true
	default:
		return false
	}
}

// Inject подает входящий кадр, как если бы он пришел из сети.
// Блокируется при заполненном буфере.
func (l *Local) Inject(f *frame.Frame) error {
	if l.IsHungup() {
		return ErrHungup
	}
	if f.Src == "" {
		f.Src = l.name
	}
	select {
	case l.inbound <- f:
		return nil
	case <-l.hangup:
		return ErrHungup
	}
}

// Write принимает исходящий кадр от моста
func (l *Local) Write(f *frame.Frame) error {
	if l.IsHungup() {
		return ErrHungup
	}
	l.mu.Lock()
	l.written = append(l.written, f)
	hook := l.onWrite
	l.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	return nil
}

// OnWrite устанавливает callback на каждый исходящий кадр
func (l *Local) OnWrite(fn func(*frame.Frame)) {
	l.mu.Lock()
	l.onWrite = fn
	l.mu.Unlock()
}

// Written возвращает копию списка исходящих кадров
func (l *Local) Written() []*frame.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*frame.Frame(nil), l.written...)
}

// WrittenOfType возвращает исходящие кадры указанного типа
func (l *Local) WrittenOfType(t frame.Type) []*frame.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*frame.Frame
	for _, f := range l.written {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// ResetWritten очищает список исходящих кадров
func (l *Local) ResetWritten() {
	l.mu.Lock()
	l.written = nil
	l.mu.Unlock()
}

// ReadFormat возвращает текущий формат чтения
func (l *Local) ReadFormat() frame.Format {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readFormat
}

// WriteFormat возвращает текущий формат записи
func (l *Local) WriteFormat() frame.Format {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeFormat
}

// SetReadFormat устанавливает формат чтения. Формат должен быть родным.
func (l *Local) SetReadFormat(f frame.Format) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.supportsLocked(f) {
		return fmt.Errorf("канал %s не поддерживает формат %s", l.name, f)
	}
	l.readFormat = f
	return nil
}

// SetWriteFormat устанавливает формат записи. Формат должен быть родным.
func (l *Local) SetWriteFormat(f frame.Format) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.supportsLocked(f) {
		return fmt.Errorf("канал %s не поддерживает формат %s", l.name, f)
	}
	l.writeFormat = f
	return nil
}

// NativeFormats возвращает родные форматы канала
func (l *Local) NativeFormats() []frame.Format {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]frame.Format(nil), l.native...)
}

func (l *Local) supportsLocked(f frame.Format) bool {
	if f.IsZero() {
		return true
	}
	for _, n := range l.native {
		if n.Equal(f) {
			return true
		}
	}
	return false
}

func (l *Local) String() string { return l.name }
