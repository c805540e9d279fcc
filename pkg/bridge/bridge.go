// Package bridge реализует ядро объединения каналов в мосты.
//
// Мост (Bridge) объединяет участников (BridgeChannel), каждый из которых
// обслуживается своей горутиной. Способ передачи кадров между участниками
// определяет подключаемая технология (Technology), выбираемая по маске
// возможностей.
//
// Порядок блокировок: сначала мост, затем участник. Участник ссылается на
// мост по id; LockBridge повторяет захват, если мост сменился (слияние).
//
// Базовое использование:
//
//	reg := bridge.NewRegistry()
//	reg.RegisterTechnology(tech)
//	b, err := reg.NewBridge(bridge.Capability1To1Mix, bridge.FlagDissolveHangup)
//	go b.Join(alice, nil)
//	b.Impart(bob, &bridge.ImpartOptions{Independent: true})
package bridge

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/frame"
)

// Channel медиа endpoint, который можно поместить в мост
type Channel interface {
	Name() string

	// Lock/Unlock - собственная блокировка канала
	Lock()
	Unlock()

	// Frames - входящие кадры. Закрытие означает завершение канала.
	Frames() <-chan *frame.Frame
	// Write передает кадр в канал
	Write(f *frame.Frame) error
	// HangupC закрывается при завершении канала
	HangupC() <-chan struct{}
	Hangup()

	ReadFormat() frame.Format
	WriteFormat() frame.Format
	SetReadFormat(f frame.Format) error
	SetWriteFormat(f frame.Format) error
	NativeFormats() []frame.Format
}

// Flags флаги поведения моста
type Flags uint32

const (
	// FlagDissolveHangup - мост распускается, когда участник сам завершает канал
	FlagDissolveHangup Flags = 1 << iota
	// FlagDissolveEmpty - мост распускается, когда уходит последний участник
	FlagDissolveEmpty
	// FlagSmart - технология меняется между 1to1 и multimix по числу участников
	FlagSmart
)

// Has проверяет установку флага
func (f Flags) Has(o Flags) bool { return f&o != 0 }

func (f Flags) String() string {
	var parts []string
	if f.Has(FlagDissolveHangup) {
		parts = append(parts, "dissolve_hangup")
	}
	if f.Has(FlagDissolveEmpty) {
		parts = append(parts, "dissolve_empty")
	}
	if f.Has(FlagSmart) {
		parts = append(parts, "smart")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// ParseFlags разбирает список вида "dissolve_hangup,smart"
func ParseFlags(s string) (Flags, error) {
	var flags Flags
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "":
		case "dissolve_hangup":
			flags |= FlagDissolveHangup
		case "dissolve_empty":
			flags |= FlagDissolveEmpty
		case "smart":
			flags |= FlagSmart
		default:
			return 0, newError(ErrCodeInvalidArgument, "", "", "неизвестный флаг "+part)
		}
	}
	return flags, nil
}

// Bridge мост: набор участников и технология, которая передает между ними кадры.
//
// Состав моста:
//   - участники в порядке входа, порядок не меняется при выходе и слиянии
//   - технология, выбранная по маске возможностей (или закрепленная в Alloc)
//   - очередь действий моста, раздаваемая участникам при снятии блокировки
//   - режим видео и счетчики активных участников и запрета слияния
//
// КРИТИЧНО: блокировка моста берется раньше блокировки любого участника.
// Все поля ниже защищены mu, если не сказано иное.
type Bridge struct {
	registry *Registry
	log      *logrus.Entry
	seq      uint64 // порядок захвата блокировок при слиянии

	mu sync.Mutex

	id           string
	tech         Technology
	pinned       bool
	techPvt      interface{}
	capabilities Capability
	flags        Flags

	channels     []*BridgeChannel
	actions      []*Action
	servicing    bool
	inhibitMerge int
	numChannels  int
	numActive    int

	sampleRate     uint32
	mixingInterval uint32
	video          videoState

	dissolved   bool
	initialized bool
	registered  bool
	destroyed   bool

	// idle закрыт, пока в мосту нет участников
	idle chan struct{}
}

// ID возвращает уникальный id моста
func (b *Bridge) ID() string { return b.id }

// Registry возвращает реестр, которому принадлежит мост
func (b *Bridge) Registry() *Registry { return b.registry }

// Technology возвращает имя активной технологии
func (b *Bridge) Technology() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tech == nil {
		return ""
	}
	return b.tech.Name()
}

// Capabilities возвращает запрошенную маску возможностей
func (b *Bridge) Capabilities() Capability { return b.capabilities }

// Flags возвращает флаги моста
func (b *Bridge) Flags() Flags { return b.flags }

// NumChannels возвращает число участников
func (b *Bridge) NumChannels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numChannels
}

// NumActive возвращает число неприостановленных участников
func (b *Bridge) NumActive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numActive
}

// Dissolved возвращает true после роспуска моста
func (b *Bridge) Dissolved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dissolved
}

// MergeInhibited возвращает значение счетчика запрета слияния
func (b *Bridge) MergeInhibited() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inhibitMerge
}

// Channels возвращает каналы участников в порядке входа
func (b *Bridge) Channels() []Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Channel, 0, len(b.channels))
	for _, bc := range b.channels {
		out = append(out, bc.ch)
	}
	return out
}

// Participant возвращает участника по каналу
func (b *Bridge) Participant(ch Channel) (*BridgeChannel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bc := b.findLocked(ch)
	return bc, bc != nil
}

// Idle возвращает канал, закрытый пока в мосту нет участников
func (b *Bridge) Idle() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idle
}

// ParticipantsLocked возвращает участников. Только при удерживаемой блокировке моста.
func (b *Bridge) ParticipantsLocked() []*BridgeChannel {
	return append([]*BridgeChannel(nil), b.channels...)
}

// NumChannelsLocked возвращает число участников. Только при удерживаемой блокировке моста.
func (b *Bridge) NumChannelsLocked() int { return b.numChannels }

// TechPvt возвращает данные технологии уровня моста.
// Только при удерживаемой блокировке моста (внутри методов Technology).
func (b *Bridge) TechPvt() interface{} { return b.techPvt }

// SetTechPvt сохраняет данные технологии уровня моста.
// Только при удерживаемой блокировке моста (внутри методов Technology).
func (b *Bridge) SetTechPvt(v interface{}) { b.techPvt = v }

// SetInternalSampleRate задает частоту смешивания (0 - решает технология)
func (b *Bridge) SetInternalSampleRate(rate uint32) {
	l := b.Lock()
	b.sampleRate = rate
	l.Unlock()
}

// InternalSampleRate возвращает частоту смешивания
func (b *Bridge) InternalSampleRate() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sampleRate
}

// SetMixingInterval задает интервал смешивания в мс (0 - решает технология)
func (b *Bridge) SetMixingInterval(ms uint32) {
	l := b.Lock()
	b.mixingInterval = ms
	l.Unlock()
}

// MixingInterval возвращает интервал смешивания в мс
func (b *Bridge) MixingInterval() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mixingInterval
}

// MixSettingsLocked возвращает частоту и интервал смешивания.
// Только при удерживаемой блокировке моста (внутри методов Technology).
func (b *Bridge) MixSettingsLocked() (rate, intervalMs uint32) {
	return b.sampleRate, b.mixingInterval
}

// Dissolve распускает мост: новые входы отклоняются, участники получают END.
// Технология получает Dissolving через отложенное действие очереди моста.
func (b *Bridge) Dissolve() {
	l := b.Lock()
	b.dissolveLocked()
	l.Unlock()
}

// Destroy уничтожает мост через реестр
func (b *Bridge) Destroy() error {
	return b.registry.Destroy(b)
}

func (b *Bridge) dissolveLocked() {
	if b.dissolved {
		return
	}
	b.dissolved = true
	for _, bc := range b.channels {
		bc.mu.Lock()
		bc.changeStateLocked(StateEnd)
		bc.mu.Unlock()
	}
	b.actions = append(b.actions, &Action{Type: ActionDeferredDissolving})
	b.registry.metrics.bridgeDissolved()
	b.log.WithField("channels", b.numChannels).Info("мост распущен")
}

func (b *Bridge) findLocked(ch Channel) *BridgeChannel {
	for _, bc := range b.channels {
		if bc.ch == ch {
			return bc
		}
	}
	return nil
}

func (b *Bridge) indexLocked(bc *BridgeChannel) int {
	for i, c := range b.channels {
		if c == bc {
			return i
		}
	}
	return -1
}

// hasRoomLocked проверяет емкость: технология без multimix и holding
// держит не более двух участников, если мост не умный.
func (b *Bridge) hasRoomLocked(swap *BridgeChannel) bool {
	if b.flags.Has(FlagSmart) || b.tech.Capabilities().Has(CapabilityMultiMix|CapabilityHolding) {
		return true
	}
	n := b.numChannels
	if swap != nil {
		n--
	}
	return n < 2
}

func (b *Bridge) canPushLocked(bc, swap *BridgeChannel) bool {
	if b.dissolved || !b.hasRoomLocked(swap) {
		return false
	}
	return b.tech.CanPush(b, bc, swap)
}

// attachLocked подключает участника к технологии и добавляет в конец списка.
// Ссылка участника на мост меняется здесь, под блокировкой моста.
func (b *Bridge) attachLocked(bc, swap *BridgeChannel) error {
	return b.attachAtLocked(bc, swap, -1)
}

// attachAtLocked как attachLocked, но вставляет участника в позицию idx.
// Отрицательный или выходящий за список idx означает конец списка.
// Нужен, чтобы вернуть участника на прежнее место без нарушения порядка входа.
func (b *Bridge) attachAtLocked(bc, swap *BridgeChannel, idx int) error {
	if err := b.tech.Push(b, bc, swap); err != nil {
		return err
	}

	if idx < 0 || idx >= len(b.channels) {
		b.channels = append(b.channels, bc)
	} else {
		b.channels = append(b.channels, nil)
		copy(b.channels[idx+1:], b.channels[idx:])
		b.channels[idx] = bc
	}
	b.numChannels++
	if b.numChannels == 1 {
		b.idle = make(chan struct{})
	}

	bc.log.Store(b.registry.log.WithFields(logrus.Fields{"channel": bc.ch.Name(), "bridge": b.id}))

	bc.mu.Lock()
	bc.bridgeID = b.id
	bc.inBridge = true
	if bc.suspendDepth == 0 {
		b.numActive++
	}
	bc.pokeLocked()
	bc.mu.Unlock()
	return nil
}

// detachLocked отключает участника от технологии и удаляет из списка.
// Ссылку на мост не трогает: ее меняет следующий attachLocked или leave.
func (b *Bridge) detachLocked(bc *BridgeChannel) bool {
	idx := b.indexLocked(bc)
	if idx < 0 {
		return false
	}

	b.tech.Pull(b, bc)

	copy(b.channels[idx:], b.channels[idx+1:])
	b.channels[len(b.channels)-1] = nil
	b.channels = b.channels[:len(b.channels)-1]
	b.numChannels--

	bc.mu.Lock()
	if bc.suspendDepth == 0 {
		b.numActive--
	}
	bc.mu.Unlock()

	b.removeVideoSrcLocked(bc.ch)
	if b.numChannels == 0 {
		close(b.idle)
	}
	return true
}

// makeCompatibleLocked подбирает общий аудио формат с первым участником
func (b *Bridge) makeCompatibleLocked(bc *BridgeChannel) {
	if len(b.channels) == 0 {
		return
	}
	peer := b.channels[0].ch
	f, ok := frame.BestCommon(bc.ch.NativeFormats(), peer.NativeFormats(), frame.KindAudio)
	if !ok {
		bc.logger().WithField("peer", peer.Name()).Debug("нет общего аудио формата, технология выполнит перекодирование")
		return
	}

	bc.ch.Lock()
	defer bc.ch.Unlock()
	if err := bc.ch.SetReadFormat(f); err != nil {
		bc.logger().WithError(err).Debug("не удалось установить формат чтения")
	}
	if err := bc.ch.SetWriteFormat(f); err != nil {
		bc.logger().WithError(err).Debug("не удалось установить формат записи")
	}
}

// smartReconfigureLocked меняет технологию умного моста под ожидаемое число участников.
// Старая технология уничтожается отложенно, через очередь моста.
func (b *Bridge) smartReconfigureLocked(count int) {
	if !b.flags.Has(FlagSmart) || b.pinned {
		return
	}

	want := Capability1To1Mix
	if count > 2 {
		want = CapabilityMultiMix
	}
	if b.tech.Capabilities().Has(want) {
		return
	}

	newTech := b.registry.findBestTechnology(want)
	if newTech == nil {
		b.log.WithField("want", want.String()).Warn("нет технологии для перенастройки умного моста")
		return
	}

	old, oldPvt := b.tech, b.techPvt
	for _, bc := range b.channels {
		old.Pull(b, bc)
	}

	b.tech = newTech
	b.techPvt = nil
	b.log = b.registry.log.WithFields(logrus.Fields{"bridge": b.id, "technology": newTech.Name()})

	for _, bc := range b.channels {
		if err := newTech.Push(b, bc, nil); err != nil {
			bc.logger().WithError(err).Warn("новая технология отклонила участника")
			bc.mu.Lock()
			bc.changeStateLocked(StateEnd)
			bc.mu.Unlock()
			continue
		}
		bc.mu.Lock()
		bc.pokeLocked()
		bc.mu.Unlock()
	}

	b.actions = append(b.actions, &Action{
		Type:    ActionDeferredTechDestroy,
		tech:    old,
		techPvt: oldPvt,
	})
	b.registry.metrics.technologySwapped()
	b.log.WithFields(logrus.Fields{
		"from":     old.Name(),
		"channels": count,
	}).Info("технология моста заменена")
}
