package bridge

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/frame"
)

// run цикл ожидания участника и выход из моста
func (bc *BridgeChannel) run() {
	defer close(bc.done)
	bc.loop()
	bc.leave()
}

// loop обслуживает участника, пока он в состоянии WAIT.
// Горутина просыпается от своей очереди, входящих кадров канала, завершения
// канала и интервального таймера функций.
func (bc *BridgeChannel) loop() {
	frames := bc.ch.Frames()
	hangup := bc.ch.HangupC()
	hooks := bc.features.hooks()

	for {
		if !bc.park() {
			return
		}

		bc.drainQueue()

		bc.mu.Lock()
		bc.justJoined = false
		bc.mu.Unlock()

		if bc.State() != StateWait {
			return
		}

		var interval <-chan time.Time
		if hooks != nil {
			interval = hooks.IntervalC()
		}

		select {
		case <-bc.wake:
		case f, ok := <-frames:
			if !ok {
				frames = nil
				bc.hangupSelf()
				continue
			}
			bc.handleInbound(f)
		case <-hangup:
			hangup = nil
			bc.hangupSelf()
		case <-interval:
			if err := bc.QueueAction(&Action{Type: ActionInterval}); err != nil {
				bc.logger().WithError(err).Debug("интервальное действие не поставлено")
			}
		}
	}
}

// park останавливает горутину, пока участник приостановлен извне.
// Возвращает false, если участник покинул состояние WAIT.
func (bc *BridgeChannel) park() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.hold > 0 && bc.State() == StateWait {
		bc.parked = true
		bc.cond.Broadcast()
		for bc.hold > 0 && bc.State() == StateWait {
			bc.cond.Wait()
		}
		bc.parked = false
	}
	return bc.State() == StateWait
}

// hangupSelf канал завершился сам
func (bc *BridgeChannel) hangupSelf() {
	bc.mu.Lock()
	if bc.State() == StateWait {
		bc.selfHangup = true
	}
	bc.changeStateLocked(StateHangup)
	bc.mu.Unlock()
}

// drainQueue выполняет очередь участника по порядку, пока он в WAIT и не приостановлен
func (bc *BridgeChannel) drainQueue() {
	for {
		bc.mu.Lock()
		if len(bc.queue) == 0 || bc.hold > 0 || bc.State() != StateWait {
			bc.mu.Unlock()
			return
		}
		e := bc.queue[0]
		bc.queue[0] = queueEntry{}
		bc.queue = bc.queue[1:]
		bc.mu.Unlock()

		if e.frame != nil {
			bc.activity.Store(int32(ActivitySimple))
			if err := bc.ch.Write(e.frame); err != nil {
				bc.logger().WithError(err).Debug("ошибка записи кадра в канал")
			}
		} else {
			bc.activity.Store(int32(ActivityFrame))
			bc.runAction(e.action)
		}
		bc.activity.Store(int32(ActivityIdle))
	}
}

// handleInbound обрабатывает кадр, пришедший из канала
func (bc *BridgeChannel) handleInbound(f *frame.Frame) {
	if f.Src == "" {
		f.Src = bc.ch.Name()
	}
	hooks := bc.features.hooks()

	switch f.Type {
	case frame.TypeControl:
		if f.Control == frame.ControlHangup {
			bc.hangupSelf()
		}
		// прочие управляющие кадры через мост не передаются
		return

	case frame.TypeDTMFBegin, frame.TypeDTMFEnd:
		if hooks != nil && hooks.MatchDTMF(f.Digit) {
			if f.Type == frame.TypeDTMFBegin {
				if err := bc.QueueAction(&Action{Type: ActionFeature, Digits: f.Digit.String()}); err != nil {
					bc.logger().WithError(err).Debug("действие функции не поставлено")
				}
			}
			return
		}
		if bc.features.dtmfBlocked() {
			return
		}

	case frame.TypeVoice:
		bc.trackTalking(f.Energy, hooks)
		if bc.features.muted() {
			return
		}
	}

	bc.deliver(f)
}

// trackTalking запоминает энергию речи и уведомляет о начале и конце речи
func (bc *BridgeChannel) trackTalking(energy int, hooks FeatureHooks) {
	threshold := bc.features.talkThreshold()

	bc.mu.Lock()
	bc.lastEnergy = energy
	changed := false
	if threshold > 0 {
		talking := energy >= threshold
		if talking != bc.talking {
			bc.talking = talking
			changed = true
		}
	}
	talking := bc.talking
	bc.mu.Unlock()

	if !changed || hooks == nil {
		return
	}
	t := ActionTalkingStop
	if talking {
		t = ActionTalkingStart
	}
	if err := bc.QueueAction(&Action{Type: t}); err != nil {
		bc.logger().WithError(err).Debug("уведомление о речи не поставлено")
	}
}

// deliver передает кадр технологии моста
func (bc *BridgeChannel) deliver(f *frame.Frame) {
	l, ok := bc.LockBridge()
	if !ok {
		return
	}
	defer l.Unlock()

	b := l.Bridge()
	if f.Type == frame.TypeVideo && !b.acceptVideoLocked(bc, f) {
		b.registry.metrics.frameDropped("video_src")
		return
	}
	if err := b.tech.Write(b, bc, f); err != nil {
		bc.logger().WithError(err).WithField("frame", f.String()).Debug("технология не приняла кадр")
	}
}

// runAction выполняет действие из очереди участника
func (bc *BridgeChannel) runAction(a *Action) {
	hooks := bc.features.hooks()
	log := bc.logger().WithField("action", a.Type.String())

	switch a.Type {
	case ActionFeature:
		if hooks == nil || a.Digits == "" {
			return
		}
		digit, err := frame.ParseDTMFDigit(rune(a.Digits[0]))
		if err != nil {
			log.WithError(err).Warn("некорректная цифра функции")
			return
		}
		bc.suspendSelf()
		hooks.Feature(bc.ctx, bc, digit)
		bc.unsuspendSelf()

	case ActionInterval:
		if hooks == nil {
			return
		}
		bc.suspendSelf()
		hooks.Interval(bc.ctx, bc)
		bc.unsuspendSelf()

	case ActionDTMFStream:
		frames, err := frame.DTMFFrames(a.Digits, 0)
		if err != nil {
			log.WithError(err).Warn("некорректная строка DTMF")
			return
		}
		bc.suspendSelf()
		for _, f := range frames {
			if err := bc.ch.Write(f); err != nil {
				log.WithError(err).Debug("ошибка записи DTMF")
				break
			}
		}
		bc.unsuspendSelf()

	case ActionTalkingStart, ActionTalkingStop:
		if hooks != nil {
			hooks.Talking(bc, a.Type == ActionTalkingStart)
		}

	case ActionPlayFile:
		if bc.registry.player == nil {
			log.Warn("проигрыватель не настроен")
			return
		}
		bc.suspendSelf()
		if err := bc.registry.player.Play(bc.ctx, bc.ch, a.File); err != nil {
			log.WithError(err).WithField("file", a.File).Warn("ошибка проигрывания")
		}
		bc.unsuspendSelf()

	case ActionRunApp:
		if bc.registry.apps == nil {
			log.Warn("исполнитель приложений не настроен")
			return
		}
		bc.suspendSelf()
		if err := bc.registry.apps.Run(bc.ctx, bc.ch, a.App, a.Args); err != nil {
			log.WithError(err).WithFields(logrus.Fields{"app": a.App, "args": a.Args}).Warn("ошибка приложения")
		}
		bc.unsuspendSelf()

	default:
		log.Warn("неизвестное действие")
	}
}
