package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Settings параметры ядра моста
type Settings struct {
	// InternalSampleRate частота смешивания новых мостов (0 - решает технология)
	InternalSampleRate uint32
	// MixingInterval интервал смешивания в мс (0 - решает технология)
	MixingInterval uint32
	// TalkerSwitchThreshold на сколько энергия нового говорящего должна
	// превысить энергию текущего источника видео для переключения
	TalkerSwitchThreshold int
	// QueueLimit максимум кадров в очереди участника (0 - без ограничения)
	QueueLimit int
}

// DefaultSettings возвращает параметры по умолчанию
func DefaultSettings() Settings {
	return Settings{
		QueueLimit: 256,
	}
}

// Player проигрывает файл в канал (действие PLAY_FILE)
type Player interface {
	Play(ctx context.Context, ch Channel, file string) error
}

// AppRunner запускает приложение на канале (действие RUN_APP)
type AppRunner interface {
	Run(ctx context.Context, ch Channel, app, args string) error
}

// Registry реестр технологий и мостов.
//
// Реестр хранит:
//   - зарегистрированные технологии с признаком приостановки
//   - мосты по id в шардированной карте
//   - участников по каналу и задачи Impart, которые можно забрать через Depart
//   - логгер, метрики, настройки и внешние исполнители (Player, AppRunner)
//
// Каждый созданный мост принадлежит вызывающему, который обязан вызвать
// Destroy. Участники ссылаются на мост по id через реестр.
type Registry struct {
	log      *logrus.Entry
	metrics  *Metrics
	settings Settings
	player   Player
	apps     AppRunner

	techMu sync.RWMutex
	techs  []*techEntry

	bridges *bridgeMap
	seq     atomic.Uint64

	// members канал -> участник; канал не может быть в двух мостах одновременно
	members sync.Map
	// departable канал -> участник, подключенный через Impart с Independent=false
	departable sync.Map
}

// Option настройка реестра
type Option func(*Registry)

// WithLogger задает логгер
func WithLogger(log *logrus.Entry) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics задает сборщик метрик
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithSettings задает параметры ядра
func WithSettings(s Settings) Option {
	return func(r *Registry) { r.settings = s }
}

// WithPlayer задает проигрыватель файлов
func WithPlayer(p Player) Option {
	return func(r *Registry) { r.player = p }
}

// WithAppRunner задает исполнитель приложений
func WithAppRunner(a AppRunner) Option {
	return func(r *Registry) { r.apps = a }
}

// NewRegistry создает реестр.
// Без опций используется стандартный логгер logrus с полем component=bridge,
// настройки DefaultSettings и пустые метрики.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		log:      logrus.WithField("component", "bridge"),
		settings: DefaultSettings(),
		bridges:  newBridgeMap(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Settings возвращает параметры ядра
func (r *Registry) Settings() Settings { return r.settings }

// Alloc создает оболочку моста. Мост еще не инициализирован и не доступен для входа.
// sizeHint - ожидаемое число участников. tech - явно заданная технология
// или nil, тогда технологию выберет BaseInit.
func (r *Registry) Alloc(sizeHint int, tech Technology) *Bridge {
	if sizeHint < 0 {
		sizeHint = 0
	}
	idle := make(chan struct{})
	close(idle)
	return &Bridge{
		registry: r,
		seq:      r.seq.Add(1),
		tech:     tech,
		pinned:   tech != nil,
		channels: make([]*BridgeChannel, 0, sizeHint),
		idle:     idle,
		log:      r.log,
	}
}

// BaseInit проверяет маску возможностей, выбирает технологию и назначает id.
// nil мост допускается: возвращается (nil, nil).
// Пустая маска означает Capability1To1Mix.
func (r *Registry) BaseInit(b *Bridge, caps Capability, flags Flags) (*Bridge, error) {
	if b == nil {
		return nil, nil
	}
	if caps == 0 {
		caps = Capability1To1Mix
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pinned {
		if !b.tech.Capabilities().Has(caps) {
			return nil, newError(ErrCodeCapabilityUnsatisfiable, "", "",
				fmt.Sprintf("технология %s не поддерживает %s", b.tech.Name(), caps))
		}
	} else {
		tech := r.findBestTechnology(caps)
		if tech == nil {
			return nil, newError(ErrCodeCapabilityUnsatisfiable, "", "",
				fmt.Sprintf("нет технологии для %s", caps))
		}
		b.tech = tech
	}

	b.id = uuid.NewString()
	b.capabilities = caps
	b.flags = flags
	b.numChannels = 0
	b.numActive = 0
	b.inhibitMerge = 0
	b.sampleRate = r.settings.InternalSampleRate
	b.mixingInterval = r.settings.MixingInterval
	b.initialized = true
	b.log = r.log.WithFields(logrus.Fields{
		"bridge":     b.id,
		"technology": b.tech.Name(),
	})
	return b, nil
}

// Register публикует мост, после чего в него можно входить.
// Должен быть последним шагом конструктора моста. nil мост допускается.
func (r *Registry) Register(b *Bridge) (*Bridge, error) {
	if b == nil {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil, newError(ErrCodeInvalidArgument, "", "", "мост не инициализирован")
	}
	if b.registered {
		return b, nil
	}
	if !r.bridges.Set(b.id, b) {
		return nil, newError(ErrCodeInvalidArgument, b.id, "", "id моста уже занят")
	}
	b.registered = true

	r.metrics.bridgeCreated()
	b.log.WithFields(logrus.Fields{
		"capabilities": b.capabilities.String(),
		"flags":        b.flags.String(),
	}).Info("мост создан")
	return b, nil
}

// NewBridge выполняет Alloc, BaseInit и Register
func (r *Registry) NewBridge(caps Capability, flags Flags) (*Bridge, error) {
	b, err := r.BaseInit(r.Alloc(0, nil), caps, flags)
	if err != nil {
		return nil, err
	}
	return r.Register(b)
}

// NewBridgeWithTechnology создает мост с явно заданной технологией
func (r *Registry) NewBridgeWithTechnology(tech Technology, caps Capability, flags Flags) (*Bridge, error) {
	if tech == nil {
		return nil, ErrTechnologyInvalid
	}
	b, err := r.BaseInit(r.Alloc(0, tech), caps, flags)
	if err != nil {
		return nil, err
	}
	return r.Register(b)
}

// Destroy уничтожает мост без участников.
// Освобождает ресурсы технологии и удаляет мост из реестра.
func (r *Registry) Destroy(b *Bridge) error {
	if b == nil {
		return nil
	}

	l := b.Lock()
	if b.numChannels > 0 {
		n := b.numChannels
		l.Unlock()
		e := newError(ErrCodeBridgeNotEmpty, b.id, "", fmt.Sprintf("в мосту %d участник(ов)", n))
		e.Context = map[string]interface{}{"channels": n}
		return e
	}
	if b.destroyed {
		l.Unlock()
		return nil
	}

	b.destroyed = true
	b.dissolved = true
	if b.tech != nil {
		b.tech.Destroy(b)
		b.techPvt = nil
	}
	registered := b.registered
	b.registered = false
	l.Unlock()

	if registered {
		r.bridges.Delete(b.id)
		r.metrics.bridgeDestroyed()
	}
	b.log.Info("мост уничтожен")
	return nil
}

// Find возвращает зарегистрированный мост по id
func (r *Registry) Find(id string) (*Bridge, bool) {
	return r.bridges.Get(id)
}

// Bridges возвращает зарегистрированные мосты
func (r *Registry) Bridges() []*Bridge {
	return r.bridges.Snapshot()
}

// Count возвращает количество зарегистрированных мостов
func (r *Registry) Count() int {
	return r.bridges.Count()
}

// FindChannel возвращает участника, в котором сейчас находится канал
func (r *Registry) FindChannel(ch Channel) (*BridgeChannel, bool) {
	if ch == nil {
		return nil, false
	}
	v, ok := r.members.Load(ch)
	if !ok {
		return nil, false
	}
	return v.(*BridgeChannel), true
}

// Depart забирает канал, подключенный через Impart с Independent=false.
// Блокируется до завершения горутины участника; канал не завершается.
func (r *Registry) Depart(ch Channel) error {
	if ch == nil {
		return ErrInvalidArgument
	}
	v, ok := r.departable.LoadAndDelete(ch)
	if !ok {
		return newError(ErrCodeNotDepartable, "", ch.Name(), "канал не подключен через impart с ожиданием depart")
	}
	bc := v.(*BridgeChannel)

	if l, ok := bc.LockBridge(); ok {
		lc := l.LockChannel(bc)
		bc.departing = true
		lc.ChangeState(StateEnd)
		lc.Unlock()
		l.Unlock()
	} else {
		bc.ChangeState(StateEnd)
	}

	<-bc.done
	bc.logger().Debug("канал забран через depart")
	return nil
}

// NotifyMasquerade передает технологии моста уведомление о подмене канала
func (r *Registry) NotifyMasquerade(ch Channel) error {
	if ch == nil {
		return ErrInvalidArgument
	}
	bc, ok := r.FindChannel(ch)
	if !ok {
		return newError(ErrCodeNotInBridge, "", ch.Name(), "канал не в мосту")
	}
	l, ok := bc.LockBridge()
	if !ok {
		return newError(ErrCodeNotInBridge, "", ch.Name(), "канал не в мосту")
	}
	b := l.Bridge()
	b.tech.NotifyMasquerade(b, bc)
	l.Unlock()
	return nil
}

// Shutdown распускает все мосты, ждет ухода участников и уничтожает мосты.
// Ошибки по отдельным мостам собираются в одну.
func (r *Registry) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	for _, b := range r.Bridges() {
		b.Dissolve()
		select {
		case <-b.Idle():
		case <-ctx.Done():
			result = multierror.Append(result, fmt.Errorf("мост %s: %w", b.ID(), ctx.Err()))
			continue
		}
		if err := r.Destroy(b); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
