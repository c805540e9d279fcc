package bridge

import (
	"context"
	"time"

	"github.com/arzzra/soft_bridge/pkg/frame"
)

// FeatureHooks внешний обработчик функций участника.
//
// Ядро не разбирает DTMF шаблоны: оно спрашивает MatchDTMF о первой цифре
// и доставляет действия FEATURE и INTERVAL в цикле ожидания участника.
// Feature и Interval вызываются из горутины участника без блокировки моста,
// участник на это время приостановлен.
type FeatureHooks interface {
	// MatchDTMF сообщает, начинает ли цифра функцию
	MatchDTMF(digit frame.DTMFDigit) bool
	// Feature выполняет функцию, начатую цифрой
	Feature(ctx context.Context, bc *BridgeChannel, digit frame.DTMFDigit)
	// Interval выполняет интервальную функцию
	Interval(ctx context.Context, bc *BridgeChannel)
	// IntervalC канал интервального таймера (nil - таймера нет)
	IntervalC() <-chan time.Time
	// Talking уведомляет о начале и конце речи участника
	Talking(bc *BridgeChannel, talking bool)
}

// Features настройки участника
type Features struct {
	Hooks FeatureHooks
	// Mute не передавать голос участника в мост
	Mute bool
	// BlockDTMF не передавать DTMF участника в мост
	BlockDTMF bool
	// TalkThreshold порог энергии для уведомлений о речи (0 - отключено)
	TalkThreshold int
}

func (f *Features) hooks() FeatureHooks {
	if f == nil {
		return nil
	}
	return f.Hooks
}

func (f *Features) muted() bool { return f != nil && f.Mute }

func (f *Features) dtmfBlocked() bool { return f != nil && f.BlockDTMF }

func (f *Features) talkThreshold() int {
	if f == nil {
		return 0
	}
	return f.TalkThreshold
}
