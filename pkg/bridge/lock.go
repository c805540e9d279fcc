package bridge

// BridgeLock удерживаемая блокировка моста.
//
// Блокировку участника при удерживаемом мосте можно получить только через
// LockChannel, что закрепляет порядок "мост, затем участник".
// При Unlock очередь действий моста доставляется до освобождения мьютекса.
type BridgeLock struct {
	b *Bridge
}

// ChannelLock удерживаемая блокировка участника
type ChannelLock struct {
	bc *BridgeChannel
}

// Lock блокирует мост
func (b *Bridge) Lock() BridgeLock {
	b.mu.Lock()
	return BridgeLock{b: b}
}

// TryLock пытается заблокировать мост без ожидания
func (b *Bridge) TryLock() (BridgeLock, bool) {
	if !b.mu.TryLock() {
		return BridgeLock{}, false
	}
	return BridgeLock{b: b}, true
}

// Bridge возвращает заблокированный мост
func (l BridgeLock) Bridge() *Bridge { return l.b }

// Unlock доставляет очередь действий и разблокирует мост
func (l BridgeLock) Unlock() {
	l.b.unlock()
}

// LockChannel блокирует участника при удерживаемом мосте
func (l BridgeLock) LockChannel(bc *BridgeChannel) ChannelLock {
	bc.mu.Lock()
	return ChannelLock{bc: bc}
}

// TryLockChannel пытается заблокировать участника без ожидания
func (l BridgeLock) TryLockChannel(bc *BridgeChannel) (ChannelLock, bool) {
	if !bc.mu.TryLock() {
		return ChannelLock{}, false
	}
	return ChannelLock{bc: bc}, true
}

// Lock блокирует участника без моста. Пока блокировка участника удерживается,
// нельзя брать блокировку моста.
func (bc *BridgeChannel) Lock() ChannelLock {
	bc.mu.Lock()
	return ChannelLock{bc: bc}
}

// TryLock пытается заблокировать участника без ожидания
func (bc *BridgeChannel) TryLock() (ChannelLock, bool) {
	if !bc.mu.TryLock() {
		return ChannelLock{}, false
	}
	return ChannelLock{bc: bc}, true
}

// Channel возвращает заблокированного участника
func (l ChannelLock) Channel() *BridgeChannel { return l.bc }

// Unlock разблокирует участника
func (l ChannelLock) Unlock() {
	l.bc.mu.Unlock()
}

// ChangeState меняет состояние участника, блокировка которого уже удерживается
func (l ChannelLock) ChangeState(s ChannelState) {
	l.bc.changeStateLocked(s)
}

// LockBridge блокирует мост, в котором сейчас находится участник.
// Если за время захвата участник переехал в другой мост, захват повторяется.
// Возвращает false, если участник не в мосту.
func (bc *BridgeChannel) LockBridge() (BridgeLock, bool) {
	return bc.lockBridge(false)
}

// TryLockBridge как LockBridge, но не ждет занятый мост
func (bc *BridgeChannel) TryLockBridge() (BridgeLock, bool) {
	return bc.lockBridge(true)
}

func (bc *BridgeChannel) lockBridge(try bool) (BridgeLock, bool) {
	for {
		bc.mu.Lock()
		id := bc.bridgeID
		bc.mu.Unlock()
		if id == "" {
			return BridgeLock{}, false
		}

		b, ok := bc.registry.bridges.Get(id)
		if !ok {
			return BridgeLock{}, false
		}

		if try {
			if !b.mu.TryLock() {
				return BridgeLock{}, false
			}
		} else {
			b.mu.Lock()
		}

		bc.mu.Lock()
		same := bc.bridgeID == id
		bc.mu.Unlock()
		if same {
			return BridgeLock{b: b}, true
		}
		b.unlock()
	}
}

// unlock доставляет накопленные действия моста и освобождает мьютекс.
// Простые действия раздаются текущим участникам, владеющие выполняют
// завершающий шаг (отложенное уничтожение технологии, уведомление о роспуске).
func (b *Bridge) unlock() {
	if !b.servicing {
		b.servicing = true
		for len(b.actions) > 0 {
			a := b.actions[0]
			b.actions[0] = nil
			b.actions = b.actions[1:]
			b.deliverLocked(a)
		}
		b.actions = nil
		b.servicing = false
	}
	b.mu.Unlock()
}
