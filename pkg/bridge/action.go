package bridge

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/frame"
)

// ActionType вид действия в очереди
type ActionType int

const (
	ActionFeature ActionType = iota + 1
	ActionInterval
	ActionDTMFStream
	ActionTalkingStart
	ActionTalkingStop
	ActionPlayFile
	ActionRunApp
)

const (
	// ActionDeferredTechDestroy отложенное уничтожение замененной технологии.
	// Только для очереди моста.
	ActionDeferredTechDestroy ActionType = iota + 1000
	// ActionDeferredDissolving отложенное уведомление технологии о роспуске.
	// Только для очереди моста.
	ActionDeferredDissolving
)

// Owning возвращает true для видов, владеющих ресурсами: они выполняются
// потребителем очереди моста и не попадают в очереди участников.
func (t ActionType) Owning() bool {
	return t >= ActionDeferredTechDestroy
}

func (t ActionType) String() string {
	switch t {
	case ActionFeature:
		return "feature"
	case ActionInterval:
		return "interval"
	case ActionDTMFStream:
		return "dtmf_stream"
	case ActionTalkingStart:
		return "talking_start"
	case ActionTalkingStop:
		return "talking_stop"
	case ActionPlayFile:
		return "play_file"
	case ActionRunApp:
		return "run_app"
	case ActionDeferredTechDestroy:
		return "deferred_tech_destroy"
	case ActionDeferredDissolving:
		return "deferred_dissolving"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Action действие для участника или моста
type Action struct {
	Type ActionType

	// Digits цифры для DTMF_STREAM или цифра, вызвавшая FEATURE
	Digits string
	// File файл для PLAY_FILE
	File string
	// App и Args приложение для RUN_APP
	App  string
	Args string
	// Payload произвольные данные для обработчиков функций
	Payload interface{}

	// данные владеющих действий
	tech    Technology
	techPvt interface{}
}

func (a *Action) clone() *Action {
	c := *a
	return &c
}

// queueEntry элемент очереди участника: кадр или действие
type queueEntry struct {
	frame  *frame.Frame
	action *Action
}

// QueueFrame ставит кадр в очередь участника и будит его горутину
func (bc *BridgeChannel) QueueFrame(f *frame.Frame) error {
	if f == nil {
		return ErrInvalidArgument
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	if limit := bc.registry.settings.QueueLimit; limit > 0 && len(bc.queue) >= limit {
		bc.registry.metrics.frameDropped("queue_full")
		return newError(ErrCodeQueueFull, "", bc.ch.Name(), fmt.Sprintf("в очереди %d элементов", len(bc.queue)))
	}
	bc.queue = append(bc.queue, queueEntry{frame: f})
	bc.pokeLocked()
	return nil
}

// QueueAction ставит действие в очередь участника.
// Владеющие виды отклоняются: их выполняет только очередь моста.
func (bc *BridgeChannel) QueueAction(a *Action) error {
	if a == nil {
		return ErrInvalidArgument
	}
	if a.Type.Owning() {
		return newError(ErrCodeOwningAction, "", bc.ch.Name(), "действие "+a.Type.String()+" нельзя ставить в очередь участника")
	}

	bc.mu.Lock()
	bc.queue = append(bc.queue, queueEntry{action: a})
	bc.pokeLocked()
	bc.mu.Unlock()
	return nil
}

// WriteAction ставит действие в очередь моста, в котором находится участник.
// Действие получат все участники на момент доставки.
func (bc *BridgeChannel) WriteAction(a *Action) error {
	if a == nil {
		return ErrInvalidArgument
	}
	l, ok := bc.LockBridge()
	if !ok {
		return newError(ErrCodeNotInBridge, "", bc.ch.Name(), "участник не в мосту")
	}
	l.Bridge().actions = append(l.Bridge().actions, a)
	l.Unlock()
	return nil
}

// QueueAction ставит действие в очередь моста.
// Простые действия раздаются участникам на момент доставки (при освобождении
// блокировки моста), владеющие выполняют свой завершающий шаг.
func (b *Bridge) QueueAction(a *Action) error {
	if a == nil {
		return ErrInvalidArgument
	}
	l := b.Lock()
	b.actions = append(b.actions, a)
	l.Unlock()
	return nil
}

// DTMFStream отправляет цифры всем участникам, кроме except (может быть nil)
func (b *Bridge) DTMFStream(digits string, except Channel) error {
	if _, err := frame.ParseDTMFString(digits); err != nil {
		return wrapError(ErrCodeInvalidArgument, b.id, "", "некорректная строка DTMF", err)
	}

	l := b.Lock()
	defer l.Unlock()
	for _, bc := range b.channels {
		if bc.ch == except {
			continue
		}
		if err := bc.QueueAction(&Action{Type: ActionDTMFStream, Digits: digits}); err != nil {
			return err
		}
	}
	return nil
}

// deliverLocked доставляет одно действие очереди моста
func (b *Bridge) deliverLocked(a *Action) {
	b.registry.metrics.actionQueued(a.Type)

	switch a.Type {
	case ActionDeferredTechDestroy:
		if a.tech == nil {
			return
		}
		// технология уничтожает свои данные, временно подставленные в мост
		cur := b.techPvt
		b.techPvt = a.techPvt
		a.tech.Destroy(b)
		b.techPvt = cur
		b.log.WithField("old_technology", a.tech.Name()).Debug("замененная технология уничтожена")
	case ActionDeferredDissolving:
		if b.tech != nil {
			b.tech.Dissolving(b)
		}
	default:
		for _, bc := range b.channels {
			bc.mu.Lock()
			bc.queue = append(bc.queue, queueEntry{action: a.clone()})
			bc.pokeLocked()
			bc.mu.Unlock()
		}
		b.log.WithFields(logrus.Fields{
			"action":     a.Type.String(),
			"recipients": len(b.channels),
		}).Debug("действие моста доставлено")
	}
}
