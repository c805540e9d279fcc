package technologies

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/bridge"
	"github.com/arzzra/soft_bridge/pkg/frame"
)

// MultiMixName имя технологии многостороннего моста
const MultiMixName = "multimix"

const (
	defaultSampleRate     = 8000
	defaultMixingInterval = 20
)

// MultiMix технология многостороннего моста.
//
// Кадр участника раздается всем остальным неприостановленным участникам.
// Видео раздается только от основного и предыдущего источника моста.
type MultiMix struct {
	bridge.BaseTechnology
	log *logrus.Entry
}

// mixState данные технологии уровня моста
type mixState struct {
	sampleRate     uint32
	mixingInterval uint32
	created        time.Time
	frames         atomic.Uint64
}

// mixChannel данные технологии уровня участника
type mixChannel struct {
	joined  time.Time
	in      atomic.Uint64
	dropped atomic.Uint64
}

// MixStats статистика многостороннего моста
type MixStats struct {
	SampleRate     uint32
	MixingInterval uint32
	Frames         uint64
}

// NewMultiMix создает технологию multimix
func NewMultiMix() *MultiMix {
	return &MultiMix{
		BaseTechnology: bridge.BaseTechnology{
			TechName: MultiMixName,
			Caps:     bridge.CapabilityMultiMix | bridge.Capability1To1Mix,
			Pref:     bridge.PreferenceLow,
		},
		log: logrus.WithFields(logrus.Fields{"component": "technology", "technology": MultiMixName}),
	}
}

func (t *MultiMix) state(b *bridge.Bridge) *mixState {
	if s, ok := b.TechPvt().(*mixState); ok {
		return s
	}
	rate, interval := b.MixSettingsLocked()
	if rate == 0 {
		rate = defaultSampleRate
	}
	if interval == 0 {
		interval = defaultMixingInterval
	}
	s := &mixState{sampleRate: rate, mixingInterval: interval, created: time.Now()}
	b.SetTechPvt(s)
	t.log.WithFields(logrus.Fields{
		"bridge":          b.ID(),
		"sample_rate":     rate,
		"mixing_interval": interval,
	}).Debug("данные смешивания созданы")
	return s
}

// Push подключает участника
func (t *MultiMix) Push(b *bridge.Bridge, bc *bridge.BridgeChannel, swap *bridge.BridgeChannel) error {
	t.state(b)
	bc.SetTechPvt(&mixChannel{joined: time.Now()})
	return nil
}

// Pull отключает участника
func (t *MultiMix) Pull(b *bridge.Bridge, bc *bridge.BridgeChannel) {
	if mc, ok := bc.TechPvt().(*mixChannel); ok {
		t.log.WithFields(logrus.Fields{
			"bridge":   b.ID(),
			"channel":  bc.Channel().Name(),
			"frames":   mc.in.Load(),
			"dropped":  mc.dropped.Load(),
			"duration": time.Since(mc.joined).String(),
		}).Debug("участник отключен от смешивания")
	}
	bc.SetTechPvt(nil)
}

// NotifyMasquerade сбрасывает статистику подмененного канала
func (t *MultiMix) NotifyMasquerade(b *bridge.Bridge, bc *bridge.BridgeChannel) {
	bc.SetTechPvt(&mixChannel{joined: time.Now()})
}

// Dissolving вызывается при роспуске моста
func (t *MultiMix) Dissolving(b *bridge.Bridge) {
	if s, ok := b.TechPvt().(*mixState); ok {
		t.log.WithFields(logrus.Fields{
			"bridge": b.ID(),
			"frames": s.frames.Load(),
		}).Debug("многосторонний мост распускается")
	}
}

// Destroy освобождает данные моста
func (t *MultiMix) Destroy(b *bridge.Bridge) {
	b.SetTechPvt(nil)
}

// Write раздает кадр остальным участникам
func (t *MultiMix) Write(b *bridge.Bridge, bc *bridge.BridgeChannel, f *frame.Frame) error {
	s := t.state(b)
	s.frames.Add(1)
	if mc, ok := bc.TechPvt().(*mixChannel); ok {
		mc.in.Add(1)
	}

	if f.Type == frame.TypeVideo && !t.videoSource(b, bc) {
		return nil
	}

	for _, other := range b.ParticipantsLocked() {
		if other == bc || other.Suspended() {
			continue
		}
		if err := other.QueueFrame(f.Clone()); err != nil {
			if mc, ok := other.TechPvt().(*mixChannel); ok {
				mc.dropped.Add(1)
			}
		}
	}
	return nil
}

func (t *MultiMix) videoSource(b *bridge.Bridge, bc *bridge.BridgeChannel) bool {
	if b.IsVideoSrcLocked(bc.Channel()) > 0 {
		return true
	}
	return b.OldVideoSrcLocked() == bc.Channel()
}

// Stats возвращает статистику моста. Вызывается при удерживаемой блокировке моста.
func (t *MultiMix) Stats(b *bridge.Bridge) MixStats {
	s, ok := b.TechPvt().(*mixState)
	if !ok {
		return MixStats{}
	}
	return MixStats{
		SampleRate:     s.sampleRate,
		MixingInterval: s.mixingInterval,
		Frames:         s.frames.Load(),
	}
}
