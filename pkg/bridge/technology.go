package bridge

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/frame"
)

// Capability битовая маска стилей смешивания, которые поддерживает технология
type Capability uint32

const (
	// CapabilityHolding - удержание каналов без обмена медиа
	CapabilityHolding Capability = 1 << iota
	// CapabilityEarly - ранняя медиа до ответа
	CapabilityEarly
	// CapabilityNative - прямая передача между каналами в обход ядра
	CapabilityNative
	// Capability1To1Mix - ровно два участника
	Capability1To1Mix
	// CapabilityMultiMix - произвольное число участников
	CapabilityMultiMix
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapabilityHolding, "holding"},
	{CapabilityEarly, "early"},
	{CapabilityNative, "native"},
	{Capability1To1Mix, "1to1mix"},
	{CapabilityMultiMix, "multimix"},
}

// Has проверяет пересечение масок
func (c Capability) Has(o Capability) bool { return c&o != 0 }

func (c Capability) String() string {
	var parts []string
	for _, n := range capabilityNames {
		if c&n.c != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseCapabilities разбирает список вида "1to1mix,multimix"
func ParseCapabilities(s string) (Capability, error) {
	var caps Capability
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		found := false
		for _, n := range capabilityNames {
			if n.name == part {
				caps |= n.c
				found = true
				break
			}
		}
		if !found {
			return 0, newError(ErrCodeInvalidArgument, "", "", "неизвестная возможность "+part)
		}
	}
	return caps, nil
}

// Preference приоритет технологии при выборе. Меньшее значение лучше.
type Preference int

const (
	PreferenceHigh Preference = iota
	PreferenceMedium
	PreferenceLow
)

// Technology стратегия смешивания кадров моста.
//
// Все методы кроме Name, Capabilities и Preference вызываются ядром при
// удерживаемой блокировке моста. Внутри них нельзя вызывать методы Bridge,
// которые сами берут блокировку: используйте методы с суффиксом Locked.
// Push и Pull владеют слотом TechPvt участника.
type Technology interface {
	Name() string
	Capabilities() Capability
	Preference() Preference

	// Destroy освобождает ресурсы технологии, привязанные к мосту (Bridge.TechPvt)
	Destroy(b *Bridge)
	// Dissolving уведомляет о роспуске моста
	Dissolving(b *Bridge)
	// CanPush решает, может ли канал войти в мост. swap - заменяемый участник или nil.
	CanPush(b *Bridge, bc *BridgeChannel, swap *BridgeChannel) bool
	// Push подключает участника к технологии
	Push(b *Bridge, bc *BridgeChannel, swap *BridgeChannel) error
	// Pull отключает участника от технологии
	Pull(b *Bridge, bc *BridgeChannel)
	// NotifyMasquerade сообщает о подмене канала участника
	NotifyMasquerade(b *Bridge, bc *BridgeChannel)
	// Write передает кадр участника в технологию
	Write(b *Bridge, bc *BridgeChannel, f *frame.Frame) error
}

// BaseTechnology реализация по умолчанию для встраивания в технологии
type BaseTechnology struct {
	TechName string
	Caps     Capability
	Pref     Preference
}

func (t BaseTechnology) Name() string { return t.TechName }
func (t BaseTechnology) Capabilities() Capability { return t.Caps }
func (t BaseTechnology) Preference() Preference { return t.Pref }
func (t BaseTechnology) Destroy(b *Bridge) {}
func (t BaseTechnology) Dissolving(b *Bridge) {}
func (t BaseTechnology) NotifyMasquerade(b *Bridge, bc *BridgeChannel) {}
func (t BaseTechnology) Pull(b *Bridge, bc *BridgeChannel) {}

func (t BaseTechnology) CanPush(b *Bridge, bc *BridgeChannel, swap *BridgeChannel) bool {
	return true
}

func (t BaseTechnology) Push(b *Bridge, bc *BridgeChannel, swap *BridgeChannel) error {
	return nil
}

func (t BaseTechnology) Write(b *Bridge, bc *BridgeChannel, f *frame.Frame) error {
	return nil
}

// techEntry запись реестра технологий
type techEntry struct {
	tech      Technology
	suspended bool
}

// RegisterTechnology добавляет технологию в реестр
func (r *Registry) RegisterTechnology(t Technology) error {
	if t == nil || t.Name() == "" || t.Capabilities() == 0 {
		return ErrTechnologyInvalid
	}

	r.techMu.Lock()
	defer r.techMu.Unlock()

	for _, e := range r.techs {
		if strings.EqualFold(e.tech.Name(), t.Name()) {
			return newError(ErrCodeTechnologyExists, "", "", "технология "+t.Name()+" уже зарегистрирована")
		}
	}
	r.techs = append(r.techs, &techEntry{tech: t})

	r.log.WithFields(logrus.Fields{
		"technology":   t.Name(),
		"capabilities": t.Capabilities().String(),
		"preference":   t.Preference(),
	}).Info("технология зарегистрирована")
	return nil
}

// UnregisterTechnology удаляет технологию из реестра.
// Мосты, уже использующие технологию, продолжают работать с ней.
func (r *Registry) UnregisterTechnology(name string) error {
	r.techMu.Lock()
	defer r.techMu.Unlock()

	for i, e := range r.techs {
		if strings.EqualFold(e.tech.Name(), name) {
			r.techs = append(r.techs[:i], r.techs[i+1:]...)
			r.log.WithField("technology", name).Info("технология удалена из реестра")
			return nil
		}
	}
	return newError(ErrCodeTechnologyNotFound, "", "", "технология "+name+" не найдена")
}

// SuspendTechnology исключает технологию из выбора для новых мостов
func (r *Registry) SuspendTechnology(name string) error {
	return r.setTechnologySuspended(name, true)
}

// UnsuspendTechnology возвращает технологию в выбор
func (r *Registry) UnsuspendTechnology(name string) error {
	return r.setTechnologySuspended(name, false)
}

func (r *Registry) setTechnologySuspended(name string, suspended bool) error {
	r.techMu.Lock()
	defer r.techMu.Unlock()

	for _, e := range r.techs {
		if strings.EqualFold(e.tech.Name(), name) {
			e.suspended = suspended
			return nil
		}
	}
	return newError(ErrCodeTechnologyNotFound, "", "", "технология "+name+" не найдена")
}

// Technologies возвращает имена зарегистрированных технологий
func (r *Registry) Technologies() []string {
	r.techMu.RLock()
	defer r.techMu.RUnlock()

	names := make([]string, 0, len(r.techs))
	for _, e := range r.techs {
		names = append(names, e.tech.Name())
	}
	return names
}

// findBestTechnology выбирает неприостановленную технологию, пересекающуюся
// с маской, с лучшим приоритетом. При равенстве выигрывает зарегистрированная позже.
func (r *Registry) findBestTechnology(caps Capability) Technology {
	r.techMu.RLock()
	defer r.techMu.RUnlock()

	var best Technology
	for _, e := range r.techs {
		if e.suspended || !e.tech.Capabilities().Has(caps) {
			continue
		}
		if best != nil && best.Preference() < e.tech.Preference() {
			continue
		}
		best = e.tech
	}
	return best
}

// Check сообщает, может ли хотя бы одна технология удовлетворить маску.
// Не имеет побочных эффектов.
func (r *Registry) Check(caps Capability) bool {
	return r.findBestTechnology(caps) != nil
}
