// Package technologies содержит встроенные технологии моста.
//
//   - simple_bridge: ровно два участника, кадры одного передаются другому
//   - multimix: произвольное число участников, коммутация без смешивания
//   - holding_bridge: удержание участников без обмена медиа
//
// Все методы Technology вызываются ядром при удерживаемой блокировке моста.
package technologies

import (
	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/bridge"
	"github.com/arzzra/soft_bridge/pkg/frame"
)

// SimpleName имя технологии двухстороннего моста
const SimpleName = "simple_bridge"

// Simple технология двухстороннего моста
type Simple struct {
	bridge.BaseTechnology
	log *logrus.Entry
}

// NewSimple создает технологию simple_bridge
func NewSimple() *Simple {
	return &Simple{
		BaseTechnology: bridge.BaseTechnology{
			TechName: SimpleName,
			Caps:     bridge.Capability1To1Mix,
			Pref:     bridge.PreferenceMedium,
		},
		log: logrus.WithFields(logrus.Fields{"component": "technology", "technology": SimpleName}),
	}
}

// CanPush принимает не более двух участников
func (t *Simple) CanPush(b *bridge.Bridge, bc *bridge.BridgeChannel, swap *bridge.BridgeChannel) bool {
	n := b.NumChannelsLocked()
	if swap != nil {
		n--
	}
	return n < 2
}

// Push для второго участника сообщает первому о смене собеседника
func (t *Simple) Push(b *bridge.Bridge, bc *bridge.BridgeChannel, swap *bridge.BridgeChannel) error {
	for _, other := range b.ParticipantsLocked() {
		if other == swap {
			continue
		}
		if err := other.QueueFrame(frame.NewControl(frame.ControlSrcChange)); err != nil {
			t.log.WithError(err).Debug("уведомление о смене собеседника не поставлено")
		}
	}
	return nil
}

// Write передает кадр второму участнику, если он не приостановлен
func (t *Simple) Write(b *bridge.Bridge, bc *bridge.BridgeChannel, f *frame.Frame) error {
	for _, other := range b.ParticipantsLocked() {
		if other == bc || other.Suspended() {
			continue
		}
		return other.QueueFrame(f)
	}
	return nil
}
