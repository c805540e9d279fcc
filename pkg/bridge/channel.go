package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/frame"
)

// ChannelState состояние участника
type ChannelState int

const (
	// StateWait - обычный участник моста
	StateWait ChannelState = iota
	// StateEnd - запрошен штатный выход (роспуск моста, depart)
	StateEnd
	// StateHangup - выход, потому что канал завершается
	StateHangup
)

const (
	stateWait   = "wait"
	stateEnd    = "end"
	stateHangup = "hangup"
)

func (s ChannelState) String() string {
	switch s {
	case StateWait:
		return stateWait
	case StateEnd:
		return stateEnd
	case StateHangup:
		return stateHangup
	default:
		return "unknown"
	}
}

// newStateMachine переходы участника монотонны: из wait в end или hangup,
// обратно не возвращаются.
func newStateMachine() *fsm.FSM {
	return fsm.NewFSM(
		stateWait,
		fsm.Events{
			{Name: stateEnd, Src: []string{stateWait}, Dst: stateEnd},
			{Name: stateHangup, Src: []string{stateWait}, Dst: stateHangup},
		},
		fsm.Callbacks{},
	)
}

func parseState(s string) ChannelState {
	switch s {
	case stateEnd:
		return StateEnd
	case stateHangup:
		return StateHangup
	default:
		return StateWait
	}
}

// Activity чем занята горутина участника
type Activity int32

const (
	ActivityIdle Activity = iota
	// ActivitySimple - запись кадра в канал
	ActivitySimple
	// ActivityFrame - выполнение действия
	ActivityFrame
)

// BridgeChannel участник моста: запись о канале, пока тот находится в мосту.
//
// У каждого участника своя горутина-владелец (Join или Impart), которая:
//   - ждет пробуждения, входящих кадров канала, завершения канала и таймера функций
//   - выполняет кадры и действия своей очереди
//   - передает входящие кадры технологии под блокировкой моста
//   - при выходе из WAIT отключается от моста и восстанавливает форматы канала
//
// Ссылка на мост хранится как id и меняется только под блокировкой моста,
// поэтому мост участника берется через LockBridge с повторной проверкой.
type BridgeChannel struct {
	registry *Registry
	ch       Channel
	swap     Channel
	features *Features
	// log меняется при каждом входе в мост, читается без блокировок
	log atomic.Pointer[logrus.Entry]

	mu   sync.Mutex
	cond *sync.Cond
	// wake пробуждение горутины-владельца: буфер 1, лишние сигналы схлопываются
	wake chan struct{}

	state  *fsm.FSM
	ctx    context.Context
	cancel context.CancelFunc

	bridgeID  string
	techPvt   interface{}
	bridgePvt interface{}

	readFormat  frame.Format
	writeFormat frame.Format

	queue []queueEntry

	inBridge     bool
	justJoined   bool
	departWait   bool
	departing    bool
	selfHangup   bool
	suspendDepth int
	hold         int
	parked       bool
	talking      bool
	lastEnergy   int

	activity atomic.Int32
	joinedAt time.Time
	done     chan struct{}
}

func newBridgeChannel(r *Registry, ch Channel, swap Channel, features *Features) *BridgeChannel {
	ctx, cancel := context.WithCancel(context.Background())
	bc := &BridgeChannel{
		registry: r,
		ch:       ch,
		swap:     swap,
		features: features,
		wake:     make(chan struct{}, 1),
		state:    newStateMachine(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	bc.cond = sync.NewCond(&bc.mu)
	bc.log.Store(r.log.WithField("channel", ch.Name()))
	return bc
}

// logger возвращает логгер участника с полями канала и текущего моста
func (bc *BridgeChannel) logger() *logrus.Entry {
	return bc.log.Load()
}

// Channel возвращает канал участника
func (bc *BridgeChannel) Channel() Channel { return bc.ch }

// Swap возвращает канал, который заменяет этот участник, или nil
func (bc *BridgeChannel) Swap() Channel { return bc.swap }

// Features возвращает функции участника (может быть nil)
func (bc *BridgeChannel) Features() *Features { return bc.features }

// Context отменяется, когда участник покидает состояние WAIT
func (bc *BridgeChannel) Context() context.Context { return bc.ctx }

// Done закрывается после завершения горутины участника
func (bc *BridgeChannel) Done() <-chan struct{} { return bc.done }

// State возвращает текущее состояние
func (bc *BridgeChannel) State() ChannelState {
	return parseState(bc.state.Current())
}

// Bridge возвращает мост, в котором находится участник, или nil
func (bc *BridgeChannel) Bridge() *Bridge {
	bc.mu.Lock()
	id := bc.bridgeID
	bc.mu.Unlock()
	if id == "" {
		return nil
	}
	b, _ := bc.registry.bridges.Get(id)
	return b
}

// InBridge возвращает true, пока участник в мосту
func (bc *BridgeChannel) InBridge() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.inBridge
}

// JustJoined возвращает true до первого прохода цикла ожидания
func (bc *BridgeChannel) JustJoined() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.justJoined
}

// Suspended возвращает true, пока участник приостановлен
func (bc *BridgeChannel) Suspended() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.suspendDepth > 0
}

// DepartWait возвращает true, если участник покидает мост только через Depart
func (bc *BridgeChannel) DepartWait() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.departWait
}

// Activity возвращает текущую активность горутины участника
func (bc *BridgeChannel) Activity() Activity {
	return Activity(bc.activity.Load())
}

// TechPvt возвращает данные технологии участника
func (bc *BridgeChannel) TechPvt() interface{} {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.techPvt
}

// SetTechPvt сохраняет данные технологии участника (из Push/Pull)
func (bc *BridgeChannel) SetTechPvt(v interface{}) {
	bc.mu.Lock()
	bc.techPvt = v
	bc.mu.Unlock()
}

// BridgePvt возвращает данные моста, связанные с участником
func (bc *BridgeChannel) BridgePvt() interface{} {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.bridgePvt
}

// SetBridgePvt сохраняет данные моста, связанные с участником
func (bc *BridgeChannel) SetBridgePvt(v interface{}) {
	bc.mu.Lock()
	bc.bridgePvt = v
	bc.mu.Unlock()
}

// ChangeState переводит участника из WAIT в новое состояние.
// Если участник уже не в WAIT, состояние не меняется. Горутина-владелец
// пробуждается в любом случае.
func (bc *BridgeChannel) ChangeState(s ChannelState) {
	bc.mu.Lock()
	bc.changeStateLocked(s)
	bc.mu.Unlock()
}

func (bc *BridgeChannel) changeStateLocked(s ChannelState) {
	if s != StateWait && bc.state.Can(s.String()) {
		if err := bc.state.Event(context.Background(), s.String()); err == nil {
			bc.cancel()
			bc.registry.metrics.stateChanged(s)
			bc.logger().WithField("state", s.String()).Debug("состояние участника изменено")
		}
	}
	bc.pokeLocked()
}

// pokeLocked будит только горутину этого участника (и ожидающих на его cond)
func (bc *BridgeChannel) pokeLocked() {
	select {
	case bc.wake <- struct{}{}:
	default:
	}
	bc.cond.Broadcast()
}

// Poke будит горутину участника для повторной проверки очереди и состояния
func (bc *BridgeChannel) Poke() {
	bc.mu.Lock()
	bc.pokeLocked()
	bc.mu.Unlock()
}

// MergeInhibit меняет счетчик запрета слияния моста, в котором сейчас
// находится участник, и возвращает этот мост, чтобы снять запрет позже
// даже если участник переедет.
func (bc *BridgeChannel) MergeInhibit(n int) *Bridge {
	l, ok := bc.LockBridge()
	if !ok {
		return nil
	}
	b := l.Bridge()
	b.mergeInhibitLocked(n)
	l.Unlock()
	return b
}

func (bc *BridgeChannel) saveFormats() {
	bc.ch.Lock()
	bc.readFormat = bc.ch.ReadFormat()
	bc.writeFormat = bc.ch.WriteFormat()
	bc.ch.Unlock()
}

func (bc *BridgeChannel) restoreFormats() {
	bc.ch.Lock()
	defer bc.ch.Unlock()

	if !bc.ch.ReadFormat().Equal(bc.readFormat) {
		if err := bc.ch.SetReadFormat(bc.readFormat); err != nil {
			bc.logger().WithError(err).Warn("не удалось восстановить формат чтения")
		}
	}
	if !bc.ch.WriteFormat().Equal(bc.writeFormat) {
		if err := bc.ch.SetWriteFormat(bc.writeFormat); err != nil {
			bc.logger().WithError(err).Warn("не удалось восстановить формат записи")
		}
	}
}
