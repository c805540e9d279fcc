package bridge

import (
	"time"

	"github.com/sirupsen/logrus"
)

// JoinOptions параметры Join
type JoinOptions struct {
	// Swap канал в мосту, который новый участник заменяет
	Swap     Channel
	Features *Features
}

// ImpartOptions параметры Impart
type ImpartOptions struct {
	Swap     Channel
	Features *Features
	// Independent - канал нельзя забрать через Depart; после выхода из моста
	// вызывается AfterBridge или канал завершается
	Independent bool
	// AfterBridge продолжение обработки независимого канала после моста
	AfterBridge func(ch Channel, state ChannelState)
}

// Join помещает канал в мост и обслуживает его в текущей горутине до выхода.
//
// Порядок работы:
//   - форматы канала сохраняются, участник подключается к технологии под
//     блокировкой моста (при swap заменяемый участник получает HANGUP)
//   - цикл ожидания обслуживает участника, пока он в WAIT
//   - при выходе участник отключается, форматы восстанавливаются
//
// Возвращает конечное состояние участника. При ошибке канал остается вне моста.
func (b *Bridge) Join(ch Channel, opts *JoinOptions) (ChannelState, error) {
	if opts == nil {
		opts = &JoinOptions{}
	}
	bc, err := b.enter(ch, opts.Swap, opts.Features, false)
	if err != nil {
		return StateHangup, err
	}
	bc.run()
	return bc.State(), nil
}

// Impart помещает канал в мост и обслуживает его в отдельной горутине.
// Ошибка входа возвращается сразу, канал остается вне моста.
func (b *Bridge) Impart(ch Channel, opts *ImpartOptions) error {
	if opts == nil {
		opts = &ImpartOptions{}
	}
	bc, err := b.enter(ch, opts.Swap, opts.Features, !opts.Independent)
	if err != nil {
		return err
	}

	if !opts.Independent {
		b.registry.departable.Store(ch, bc)
	}

	go func() {
		bc.run()
		if !opts.Independent {
			return
		}
		state := bc.State()
		if opts.AfterBridge != nil {
			opts.AfterBridge(ch, state)
			return
		}
		ch.Hangup()
	}()
	return nil
}

// enter создает участника и помещает его в мост под блокировкой моста
func (b *Bridge) enter(ch Channel, swap Channel, features *Features, departWait bool) (*BridgeChannel, error) {
	if ch == nil {
		return nil, ErrInvalidArgument
	}

	r := b.registry
	bc := newBridgeChannel(r, ch, swap, features)
	bc.departWait = departWait

	if _, loaded := r.members.LoadOrStore(ch, bc); loaded {
		return nil, newError(ErrCodeChannelInBridge, b.id, ch.Name(), "канал уже в мосту")
	}

	bc.saveFormats()

	l := b.Lock()
	err := b.admitLocked(bc)
	l.Unlock()

	if err != nil {
		r.members.CompareAndDelete(ch, bc)
		bc.restoreFormats()
		if HasErrorCode(err, ErrCodePushRejected) {
			r.metrics.pushRejected()
		}
		bc.logger().WithError(err).Warn("канал не принят в мост")
		return nil, err
	}

	r.metrics.channelJoined()
	bc.logger().WithFields(logrus.Fields{
		"channels":    b.NumChannels(),
		"depart_wait": departWait,
	}).Info("канал вошел в мост")
	return bc, nil
}

func (b *Bridge) admitLocked(bc *BridgeChannel) error {
	name := bc.ch.Name()
	if !b.registered {
		return newError(ErrCodeBridgeNotRegistered, b.id, name, "вход в незарегистрированный мост")
	}
	if b.dissolved {
		return newError(ErrCodeBridgeDissolved, b.id, name, "вход в распущенный мост")
	}

	var swap *BridgeChannel
	if bc.swap != nil {
		swap = b.findLocked(bc.swap)
		if swap == nil {
			bc.logger().WithField("swap", bc.swap.Name()).Debug("заменяемый канал не в мосту")
		}
	}

	count := b.numChannels + 1
	if swap != nil {
		count--
	}
	b.smartReconfigureLocked(count)

	if !b.canPushLocked(bc, swap) {
		return newError(ErrCodePushRejected, b.id, name, "технология "+b.tech.Name()+" отклонила канал")
	}

	b.makeCompatibleLocked(bc)

	if err := b.attachLocked(bc, swap); err != nil {
		return wrapError(ErrCodePushRejected, b.id, name, "ошибка подключения к технологии", err)
	}

	bc.mu.Lock()
	bc.justJoined = true
	bc.joinedAt = time.Now()
	bc.mu.Unlock()

	if swap != nil {
		swap.mu.Lock()
		swap.changeStateLocked(StateHangup)
		swap.mu.Unlock()
	}
	return nil
}

// Remove просит канал покинуть мост с завершением (WAIT -> HANGUP).
// Управление вызывающему не передается.
func (b *Bridge) Remove(ch Channel) error {
	l := b.Lock()
	defer l.Unlock()

	bc := b.findLocked(ch)
	if bc == nil {
		return newError(ErrCodeNotInBridge, b.id, channelName(ch), "канал не в мосту")
	}

	lc := l.LockChannel(bc)
	defer lc.Unlock()

	if bc.departWait {
		return newError(ErrCodeDepartRequired, b.id, ch.Name(), "канал покидает мост только через depart")
	}
	lc.ChangeState(StateHangup)
	return nil
}

// Suspend временно забирает управление каналом у моста, оставляя его участником.
// Возвращается, когда горутина участника остановилась. Нельзя вызывать из
// горутины самого участника.
func (b *Bridge) Suspend(ch Channel) error {
	l := b.Lock()
	bc := b.findLocked(ch)
	if bc == nil {
		l.Unlock()
		return newError(ErrCodeNotInBridge, b.id, channelName(ch), "канал не в мосту")
	}

	lc := l.LockChannel(bc)
	if bc.hold > 0 {
		lc.Unlock()
		l.Unlock()
		return newError(ErrCodeAlreadySuspended, b.id, ch.Name(), "канал уже приостановлен")
	}
	if bc.State() != StateWait {
		lc.Unlock()
		l.Unlock()
		return newError(ErrCodeChannelLeaving, b.id, ch.Name(), "канал покидает мост")
	}
	bc.hold++
	b.suspendLocked(bc)
	bc.pokeLocked()
	lc.Unlock()
	l.Unlock()

	bc.mu.Lock()
	for !bc.parked && bc.inBridge && bc.State() == StateWait {
		bc.cond.Wait()
	}
	parked := bc.parked
	bc.mu.Unlock()

	if !parked {
		return newError(ErrCodeChannelLeaving, b.id, ch.Name(), "канал покинул мост во время приостановки")
	}
	bc.logger().Debug("канал приостановлен")
	return nil
}

// Unsuspend возвращает управление каналом мосту
func (b *Bridge) Unsuspend(ch Channel) error {
	l := b.Lock()
	defer l.Unlock()

	bc := b.findLocked(ch)
	if bc == nil {
		return newError(ErrCodeNotInBridge, b.id, channelName(ch), "канал не в мосту")
	}

	lc := l.LockChannel(bc)
	defer lc.Unlock()

	if bc.hold == 0 {
		return newError(ErrCodeNotSuspended, b.id, ch.Name(), "канал не приостановлен")
	}
	bc.hold--
	b.unsuspendLocked(bc)
	bc.pokeLocked()
	return nil
}

// suspendLocked исключает участника из активных. Блокировки моста и участника удерживаются.
func (b *Bridge) suspendLocked(bc *BridgeChannel) {
	if bc.suspendDepth == 0 && bc.inBridge {
		b.numActive--
	}
	bc.suspendDepth++
}

// unsuspendLocked возвращает участника в активные. Блокировки моста и участника удерживаются.
func (b *Bridge) unsuspendLocked(bc *BridgeChannel) {
	if bc.suspendDepth == 0 {
		return
	}
	bc.suspendDepth--
	if bc.suspendDepth == 0 && bc.inBridge {
		b.numActive++
	}
}

// suspendSelf приостанавливает участника на время действия в его горутине
func (bc *BridgeChannel) suspendSelf() {
	l, ok := bc.LockBridge()
	if !ok {
		bc.mu.Lock()
		bc.suspendDepth++
		bc.mu.Unlock()
		return
	}
	lc := l.LockChannel(bc)
	l.Bridge().suspendLocked(bc)
	lc.Unlock()
	l.Unlock()
}

func (bc *BridgeChannel) unsuspendSelf() {
	l, ok := bc.LockBridge()
	if !ok {
		bc.mu.Lock()
		if bc.suspendDepth > 0 {
			bc.suspendDepth--
		}
		bc.mu.Unlock()
		return
	}
	lc := l.LockChannel(bc)
	l.Bridge().unsuspendLocked(bc)
	lc.Unlock()
	l.Unlock()
}

// leave вынимает участника из моста после завершения цикла ожидания
func (bc *BridgeChannel) leave() {
	state := bc.State()

	if l, ok := bc.LockBridge(); ok {
		b := l.Bridge()
		b.detachLocked(bc)

		bc.mu.Lock()
		bc.bridgeID = ""
		bc.inBridge = false
		bc.bridgePvt = nil
		selfHangup := bc.selfHangup
		bc.mu.Unlock()

		switch {
		case state == StateHangup && selfHangup && b.flags.Has(FlagDissolveHangup):
			b.dissolveLocked()
		case b.numChannels == 0 && b.flags.Has(FlagDissolveEmpty):
			b.dissolveLocked()
		case !b.dissolved:
			b.smartReconfigureLocked(b.numChannels)
		}
		l.Unlock()
	}

	bc.mu.Lock()
	dropped := len(bc.queue)
	bc.queue = nil
	bc.inBridge = false
	bc.cond.Broadcast()
	joinedAt := bc.joinedAt
	bc.mu.Unlock()

	bc.restoreFormats()
	bc.registry.members.CompareAndDelete(bc.ch, bc)
	bc.cancel()

	bc.registry.metrics.channelLeft(time.Since(joinedAt))
	bc.logger().WithFields(logrus.Fields{
		"state":   state.String(),
		"dropped": dropped,
	}).Info("канал покинул мост")
}

func channelName(ch Channel) string {
	if ch == nil {
		return ""
	}
	return ch.Name()
}
