package bridge

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Merge переносит всех участников src в dst, сохраняя порядок входа.
//
// Мосты блокируются в порядке создания, поэтому встречные слияния не
// взаимоблокируются. Участник, которого dst не принимает, остается в src;
// слияние продолжается для остальных. Возвращает число участников,
// оставшихся в src. Уничтожение src остается за вызывающим.
func Merge(dst, src *Bridge) (int, error) {
	if dst == nil || src == nil {
		return 0, ErrInvalidArgument
	}
	if dst == src {
		return 0, newError(ErrCodeSameBridge, dst.id, "", "слияние моста с самим собой")
	}

	first, second := dst, src
	if second.seq < first.seq {
		first, second = second, first
	}
	l1 := first.Lock()
	l2 := second.Lock()
	defer l1.Unlock()
	defer l2.Unlock()

	remaining, moved, err := mergeLocked(dst, src)
	result := "ok"
	switch {
	case err != nil:
		result = "rejected"
	case remaining > 0:
		result = "partial"
	}
	dst.registry.metrics.merged(result, moved)
	return remaining, err
}

func mergeLocked(dst, src *Bridge) (remaining, moved int, err error) {
	if dst.dissolved || src.dissolved {
		return src.numChannels, 0, newError(ErrCodeBridgeDissolved, src.id, "", "слияние распущенного моста")
	}
	if !dst.registered || !src.registered {
		return src.numChannels, 0, newError(ErrCodeBridgeNotRegistered, src.id, "", "слияние незарегистрированного моста")
	}
	if dst.inhibitMerge > 0 || src.inhibitMerge > 0 {
		e := newError(ErrCodeMergeInhibited, src.id, "",
			fmt.Sprintf("запрет слияния: dst=%d src=%d", dst.inhibitMerge, src.inhibitMerge))
		e.Context = map[string]interface{}{"dst": dst.id}
		return src.numChannels, 0, e
	}

	dst.smartReconfigureLocked(dst.numChannels + src.numChannels)

	for _, bc := range append([]*BridgeChannel(nil), src.channels...) {
		if !dst.canPushLocked(bc, nil) {
			bc.logger().WithField("dst", dst.id).Debug("участник не принят при слиянии")
			continue
		}

		idx := src.indexLocked(bc)
		src.detachLocked(bc)
		if err := dst.attachLocked(bc, nil); err != nil {
			bc.logger().WithError(err).WithField("dst", dst.id).Warn("ошибка подключения при слиянии")
			if err := src.attachAtLocked(bc, nil, idx); err != nil {
				// участник не может вернуться ни в один мост
				bc.mu.Lock()
				bc.bridgeID = ""
				bc.inBridge = false
				bc.changeStateLocked(StateEnd)
				bc.mu.Unlock()
			}
			continue
		}
		moved++
	}

	src.smartReconfigureLocked(src.numChannels)

	dst.log.WithFields(logrus.Fields{
		"src":       src.id,
		"moved":     moved,
		"remaining": src.numChannels,
	}).Info("мосты слиты")
	return src.numChannels, moved, nil
}

// MergeInhibit меняет счетчик запрета слияния на n (может быть отрицательным).
// Счетчик не опускается ниже нуля.
func (b *Bridge) MergeInhibit(n int) {
	l := b.Lock()
	b.mergeInhibitLocked(n)
	l.Unlock()
}

func (b *Bridge) mergeInhibitLocked(n int) {
	b.inhibitMerge += n
	if b.inhibitMerge < 0 {
		b.log.WithField("inhibit", b.inhibitMerge).Warn("счетчик запрета слияния ушел ниже нуля")
		b.inhibitMerge = 0
	}
}
