package bridge

import (
	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/frame"
)

// VideoMode политика выбора источника видео
type VideoMode int

const (
	// VideoModeNone - видео не распространяется
	VideoModeNone VideoMode = iota
	// VideoModeSingleSrc - один закрепленный источник
	VideoModeSingleSrc
	// VideoModeTalkerSrc - источник выбирается по энергии речи
	VideoModeTalkerSrc
)

func (m VideoMode) String() string {
	switch m {
	case VideoModeNone:
		return "none"
	case VideoModeSingleSrc:
		return "single_src"
	case VideoModeTalkerSrc:
		return "talker_src"
	default:
		return "unknown"
	}
}

// videoState данные режима видео моста. Защищены блокировкой моста.
type videoState struct {
	mode VideoMode

	singleSrc Channel

	talkerSrc     Channel
	oldSrc        Channel
	averageEnergy int
}

func (v *videoState) reset(mode VideoMode) {
	*v = videoState{mode: mode}
}

// SetSingleSrcVideoMode закрепляет ch источником видео
func (b *Bridge) SetSingleSrcVideoMode(ch Channel) {
	l := b.Lock()
	defer l.Unlock()

	b.video.reset(VideoModeSingleSrc)
	b.video.singleSrc = ch
	b.log.WithField("source", channelName(ch)).Debug("видео: закрепленный источник")
	b.requestKeyframeLocked(ch)
}

// SetTalkerSrcVideoMode включает выбор источника по говорящему
func (b *Bridge) SetTalkerSrcVideoMode() {
	l := b.Lock()
	defer l.Unlock()

	b.video.reset(VideoModeTalkerSrc)
	b.log.Debug("видео: источник по говорящему")
}

// SetNoVideoMode отключает распространение видео
func (b *Bridge) SetNoVideoMode() {
	l := b.Lock()
	defer l.Unlock()
	b.video.reset(VideoModeNone)
}

// VideoMode возвращает текущий режим видео
func (b *Bridge) VideoMode() VideoMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.video.mode
}

// VideoModeLocked как VideoMode, при удерживаемой блокировке моста
func (b *Bridge) VideoModeLocked() VideoMode { return b.video.mode }

// UpdateTalkerSrcVideoMode передает новую энергию речи канала и признак
// ключевого кадра. Источник переключается, если энергия превышает
// среднюю энергию текущего источника на порог и кадр ключевой.
//
// При каждой смене источника новый и прежний источники получают запрос
// ключевого кадра. Канал с большей энергией, приславший не ключевой кадр,
// тоже получает запрос, чтобы переключение произошло на следующем кадре.
func (b *Bridge) UpdateTalkerSrcVideoMode(ch Channel, energy int, keyframe bool) {
	l := b.Lock()
	defer l.Unlock()

	for _, c := range b.updateTalkerLocked(ch, energy, keyframe) {
		b.requestKeyframeLocked(c)
	}
}

// updateTalkerLocked обновляет источник по говорящему и возвращает каналы,
// у которых нужно запросить ключевой кадр
func (b *Bridge) updateTalkerLocked(ch Channel, energy int, keyframe bool) []Channel {
	v := &b.video
	if v.mode != VideoModeTalkerSrc || ch == nil {
		return nil
	}
	if !frame.HasKind(ch.NativeFormats(), frame.KindVideo) {
		return nil
	}

	if v.talkerSrc == ch {
		v.averageEnergy = energy
		return nil
	}

	louder := v.averageEnergy+b.registry.settings.TalkerSwitchThreshold < energy
	switch {
	case louder && keyframe:
		var updates []Channel
		if v.talkerSrc != nil {
			v.oldSrc = v.talkerSrc
			updates = append(updates, v.oldSrc)
		}
		v.talkerSrc = ch
		v.averageEnergy = energy
		b.log.WithFields(logrus.Fields{
			"source": ch.Name(),
			"old":    channelName(v.oldSrc),
			"energy": energy,
		}).Debug("видео: источник переключен")
		return append(updates, ch)
	case louder:
		return []Channel{ch}
	case v.talkerSrc == nil && keyframe:
		v.talkerSrc = ch
		v.averageEnergy = energy
		return []Channel{ch}
	case v.oldSrc == nil && keyframe:
		v.oldSrc = ch
		return []Channel{ch}
	}
	return nil
}

// IsVideoSrc возвращает 1, если ch основной источник видео, иначе 0
func (b *Bridge) IsVideoSrc(ch Channel) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.IsVideoSrcLocked(ch)
}

// IsVideoSrcLocked как IsVideoSrc, при удерживаемой блокировке моста
func (b *Bridge) IsVideoSrcLocked(ch Channel) int {
	if ch == nil {
		return 0
	}
	switch b.video.mode {
	case VideoModeSingleSrc:
		if b.video.singleSrc == ch {
			return 1
		}
	case VideoModeTalkerSrc:
		if b.video.talkerSrc == ch {
			return 1
		}
	}
	return 0
}

// OldVideoSrc возвращает предыдущий источник режима по говорящему или nil
func (b *Bridge) OldVideoSrc() Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.OldVideoSrcLocked()
}

// OldVideoSrcLocked возвращает предыдущий источник режима по говорящему.
// Технология может продолжать отдавать его видео, пока новый источник не
// прислал ключевой кадр.
func (b *Bridge) OldVideoSrcLocked() Channel {
	if b.video.mode != VideoModeTalkerSrc {
		return nil
	}
	return b.video.oldSrc
}

// VideoSrcLocked возвращает основной источник видео или nil
func (b *Bridge) VideoSrcLocked() Channel {
	switch b.video.mode {
	case VideoModeSingleSrc:
		return b.video.singleSrc
	case VideoModeTalkerSrc:
		return b.video.talkerSrc
	}
	return nil
}

// NumberVideoSrc возвращает число активных источников (0 или 1)
func (b *Bridge) NumberVideoSrc() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.VideoSrcLocked() != nil {
		return 1
	}
	return 0
}

// RemoveVideoSrc снимает с канала статус источника видео
func (b *Bridge) RemoveVideoSrc(ch Channel) {
	l := b.Lock()
	defer l.Unlock()
	b.removeVideoSrcLocked(ch)
}

func (b *Bridge) removeVideoSrcLocked(ch Channel) {
	v := &b.video
	switch v.mode {
	case VideoModeSingleSrc:
		if v.singleSrc == ch {
			v.reset(VideoModeNone)
			b.log.WithField("source", channelName(ch)).Debug("видео: закрепленный источник снят")
		}
	case VideoModeTalkerSrc:
		if v.oldSrc == ch {
			v.oldSrc = nil
		}
		if v.talkerSrc == ch {
			v.talkerSrc = v.oldSrc
			v.oldSrc = nil
			v.averageEnergy = 0
			if v.talkerSrc != nil {
				b.requestKeyframeLocked(v.talkerSrc)
			}
		}
	}
}

// acceptVideoLocked решает, передается ли видео кадр участника в технологию
func (b *Bridge) acceptVideoLocked(bc *BridgeChannel, f *frame.Frame) bool {
	switch b.video.mode {
	case VideoModeSingleSrc:
		return b.video.singleSrc == bc.ch
	case VideoModeTalkerSrc:
		bc.mu.Lock()
		energy := bc.lastEnergy
		bc.mu.Unlock()
		for _, c := range b.updateTalkerLocked(bc.ch, energy, f.Keyframe) {
			b.requestKeyframeLocked(c)
		}
		return b.video.talkerSrc == bc.ch || b.video.oldSrc == bc.ch
	default:
		return false
	}
}

// requestKeyframeLocked просит участника прислать ключевой кадр
func (b *Bridge) requestKeyframeLocked(ch Channel) {
	bc := b.findLocked(ch)
	if bc == nil {
		return
	}
	if err := bc.QueueFrame(frame.NewControl(frame.ControlVideoUpdate)); err != nil {
		bc.logger().WithError(err).Debug("запрос ключевого кадра не поставлен")
	}
}
