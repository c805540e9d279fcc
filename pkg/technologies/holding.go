package technologies

import (
	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/bridge"
	"github.com/arzzra/soft_bridge/pkg/frame"
)

// HoldingName имя технологии удержания
const HoldingName = "holding_bridge"

// Holding технология удержания: участники не слышат друг друга.
// При входе участник получает управляющий кадр Hold.
type Holding struct {
	bridge.BaseTechnology
	log *logrus.Entry
}

// NewHolding создает технологию holding_bridge
func NewHolding() *Holding {
	return &Holding{
		BaseTechnology: bridge.BaseTechnology{
			TechName: HoldingName,
			Caps:     bridge.CapabilityHolding,
			Pref:     bridge.PreferenceMedium,
		},
		log: logrus.WithFields(logrus.Fields{"component": "technology", "technology": HoldingName}),
	}
}

// Push ставит участника на удержание
func (t *Holding) Push(b *bridge.Bridge, bc *bridge.BridgeChannel, swap *bridge.BridgeChannel) error {
	return bc.QueueFrame(frame.NewControl(frame.ControlHold))
}

// Write отбрасывает медиа, текст передается остальным участникам
func (t *Holding) Write(b *bridge.Bridge, bc *bridge.BridgeChannel, f *frame.Frame) error {
	if f.Type != frame.TypeText {
		return nil
	}
	for _, other := range b.ParticipantsLocked() {
		if other == bc {
			continue
		}
		if err := other.QueueFrame(f.Clone()); err != nil {
			t.log.WithError(err).WithField("channel", other.Channel().Name()).Debug("текст не доставлен")
		}
	}
	return nil
}
