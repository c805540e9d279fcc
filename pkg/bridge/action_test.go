package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_bridge/pkg/channel"
	"github.com/arzzra/soft_bridge/pkg/frame"
)

func pair(t *testing.T, r *Registry, aFeatures *Features) (*Bridge, *channel.Local, *channel.Local) {
	t.Helper()
	addTech(t, r, "mix", Capability1To1Mix, PreferenceMedium)
	b := newTestBridge(t, r, Capability1To1Mix, 0)
	a := channel.NewLocal("a")
	c := channel.NewLocal("c")
	require.NoError(t, b.Impart(a, &ImpartOptions{Features: aFeatures}))
	require.NoError(t, b.Impart(c, nil))
	return b, a, c
}

// TestFrameFlow проверяет передачу кадров через технологию
func TestFrameFlow(t *testing.T) {
	r := newTestRegistry(t)
	_, a, c := pair(t, r, nil)

	require.NoError(t, a.Inject(voice(100)))
	require.NoError(t, a.Inject(frame.NewText("hello")))

	require.Eventually(t, func() bool { return len(c.WrittenOfType(frame.TypeText)) == 1 }, waitFor, tick)
	voices := c.WrittenOfType(frame.TypeVoice)
	require.Len(t, voices, 1)
	assert.Equal(t, "a", voices[0].Src)
	assert.Equal(t, "hello", c.WrittenOfType(frame.TypeText)[0].Text)
	assert.Empty(t, a.WrittenOfType(frame.TypeVoice), "кадр не возвращается отправителю")
}

// TestMuteAndBlockDTMF проверяет фильтрацию голоса и DTMF участника
func TestMuteAndBlockDTMF(t *testing.T) {
	r := newTestRegistry(t)
	_, a, c := pair(t, r, &Features{Mute: true, BlockDTMF: true})

	require.NoError(t, a.Inject(voice(100)))
	require.NoError(t, a.Inject(dtmfBegin('5')))
	require.NoError(t, a.Inject(frame.NewText("marker")))

	require.Eventually(t, func() bool { return len(c.WrittenOfType(frame.TypeText)) == 1 }, waitFor, tick)
	assert.Empty(t, c.WrittenOfType(frame.TypeVoice))
	assert.Empty(t, c.WrittenOfType(frame.TypeDTMFBegin))

	// в обратную сторону ограничения не действуют
	require.NoError(t, c.Inject(voice(100)))
	require.Eventually(t, func() bool { return len(a.WrittenOfType(frame.TypeVoice)) == 1 }, waitFor, tick)
}

// TestControlFramesNotForwarded проверяет обработку управляющих кадров
func TestControlFramesNotForwarded(t *testing.T) {
	r := newTestRegistry(t)
	b, a, c := pair(t, r, nil)

	require.NoError(t, a.Inject(frame.NewControl(frame.ControlHold)))
	require.NoError(t, a.Inject(frame.NewText("marker")))
	require.Eventually(t, func() bool { return len(c.WrittenOfType(frame.TypeText)) == 1 }, waitFor, tick)
	assert.Empty(t, c.WrittenOfType(frame.TypeControl))

	require.NoError(t, a.Inject(frame.NewControl(frame.ControlHangup)))
	waitChannels(t, b, 1)
	assert.Equal(t, []Channel{c}, b.Channels())
}

// TestFeatureHook проверяет вызов функции по DTMF
func TestFeatureHook(t *testing.T) {
	r := newTestRegistry(t)
	hooks := &mockHooks{match: frame.DTMFPound}
	_, a, c := pair(t, r, &Features{Hooks: hooks})

	require.NoError(t, a.Inject(dtmfBegin('#')))
	require.NoError(t, a.Inject(frame.NewDTMF(frame.TypeDTMFEnd, frame.DTMFPound, 100*time.Millisecond)))
	require.NoError(t, a.Inject(dtmfBegin('1')))

	require.Eventually(t, func() bool { return len(hooks.Features()) == 1 }, waitFor, tick)
	assert.Equal(t, []frame.DTMFDigit{frame.DTMFPound}, hooks.Features())

	hooks.mu.Lock()
	assert.Equal(t, []bool{true}, hooks.suspended, "функция выполняется при приостановленном участнике")
	hooks.mu.Unlock()

	// цифры функции не уходят в мост, остальные уходят
	require.Eventually(t, func() bool { return len(c.WrittenOfType(frame.TypeDTMFBegin)) == 1 }, waitFor, tick)
	assert.Equal(t, frame.DTMF1, c.WrittenOfType(frame.TypeDTMFBegin)[0].Digit)
	assert.Empty(t, c.WrittenOfType(frame.TypeDTMFEnd))
}

// TestIntervalHook проверяет интервальную функцию
func TestIntervalHook(t *testing.T) {
	r := newTestRegistry(t)
	hooks := &mockHooks{match: frame.DTMFStar, interval: make(chan time.Time)}
	pair(t, r, &Features{Hooks: hooks})

	hooks.interval <- time.Now()
	hooks.interval <- time.Now()
	require.Eventually(t, func() bool { return hooks.Intervals() == 2 }, waitFor, tick)
}

// TestTalkingNotifications проверяет уведомления о начале и конце речи
func TestTalkingNotifications(t *testing.T) {
	r := newTestRegistry(t)
	hooks := &mockHooks{match: frame.DTMFStar}
	_, a, _ := pair(t, r, &Features{Hooks: hooks, TalkThreshold: 100})

	for _, energy := range []int{10, 200, 300, 50, 20} {
		require.NoError(t, a.Inject(voice(energy)))
	}
	require.Eventually(t, func() bool { return len(hooks.Talks()) == 2 }, waitFor, tick)
	assert.Equal(t, []bool{true, false}, hooks.Talks())
}

// TestPlayFileAndRunApp проверяет действия с внешними исполнителями
func TestPlayFileAndRunApp(t *testing.T) {
	player := &mockPlayer{}
	apps := &mockApps{err: errors.New("app failed")}
	r := newTestRegistry(t, WithPlayer(player), WithAppRunner(apps))
	b, a, _ := pair(t, r, nil)
	player.mu.Lock()
	player.b = b
	player.mu.Unlock()

	bc, ok := b.Participant(a)
	require.True(t, ok)

	require.NoError(t, bc.QueueAction(&Action{Type: ActionPlayFile, File: "beep"}))
	require.NoError(t, bc.QueueAction(&Action{Type: ActionRunApp, App: "echo", Args: "x"}))

	require.Eventually(t, func() bool { return len(apps.Runs()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"a:beep"}, player.Played())
	assert.Equal(t, []string{"a:echo(x)"}, apps.Runs())

	player.mu.Lock()
	assert.Equal(t, []int{1}, player.active, "участник приостановлен во время проигрывания")
	player.mu.Unlock()

	// ошибка приложения не выводит участника из моста
	require.Eventually(t, func() bool { return b.NumActive() == 2 }, waitFor, tick)
	assert.Equal(t, StateWait, bc.State())
}

// TestOwningActionRejected проверяет, что владеющие действия не попадают в очередь участника
func TestOwningActionRejected(t *testing.T) {
	r := newTestRegistry(t)
	b, a, _ := pair(t, r, nil)
	bc, ok := b.Participant(a)
	require.True(t, ok)

	for _, typ := range []ActionType{ActionDeferredTechDestroy, ActionDeferredDissolving} {
		assert.True(t, typ.Owning())
		err := bc.QueueAction(&Action{Type: typ})
		assert.True(t, errors.Is(err, ErrOwningAction), typ.String())
	}
	assert.False(t, ActionPlayFile.Owning())
	assert.True(t, errors.Is(bc.QueueAction(nil), ErrInvalidArgument))
	assert.True(t, errors.Is(bc.QueueFrame(nil), ErrInvalidArgument))
}

// TestBridgeActionFanOut проверяет раздачу действия моста всем участникам
func TestBridgeActionFanOut(t *testing.T) {
	r := newTestRegistry(t)
	b, a, c := pair(t, r, nil)

	require.NoError(t, b.QueueAction(&Action{Type: ActionDTMFStream, Digits: "12"}))
	for _, ch := range []*channel.Local{a, c} {
		ch := ch
		require.Eventually(t, func() bool { return len(ch.WrittenOfType(frame.TypeDTMFEnd)) == 2 }, waitFor, tick)
		ends := ch.WrittenOfType(frame.TypeDTMFEnd)
		assert.Equal(t, frame.DTMF1, ends[0].Digit)
		assert.Equal(t, frame.DTMF2, ends[1].Digit)
		assert.Equal(t, frame.DefaultDTMFDuration, ends[0].Duration)
	}

	// участник, вошедший после доставки, действие не получает
	require.NoError(t, r.Depart(c))
	late := channel.NewLocal("late")
	require.NoError(t, b.Impart(late, nil))
	require.NoError(t, late.Inject(frame.NewText("marker")))
	require.Eventually(t, func() bool { return len(a.WrittenOfType(frame.TypeText)) == 1 }, waitFor, tick)
	assert.Empty(t, late.WrittenOfType(frame.TypeDTMFBegin))
}

// TestWriteActionAndDTMFStream проверяет WriteAction и DTMFStream с исключением
func TestWriteActionAndDTMFStream(t *testing.T) {
	r := newTestRegistry(t)
	b, a, c := pair(t, r, nil)

	require.NoError(t, b.DTMFStream("9", a))
	require.Eventually(t, func() bool { return len(c.WrittenOfType(frame.TypeDTMFBegin)) == 1 }, waitFor, tick)
	assert.Empty(t, a.WrittenOfType(frame.TypeDTMFBegin))

	assert.True(t, errors.Is(b.DTMFStream("9x", nil), ErrInvalidArgument))

	bc, ok := b.Participant(c)
	require.True(t, ok)
	require.NoError(t, bc.WriteAction(&Action{Type: ActionDTMFStream, Digits: "0"}))
	require.Eventually(t, func() bool {
		return len(a.WrittenOfType(frame.TypeDTMFBegin)) == 1 && len(c.WrittenOfType(frame.TypeDTMFBegin)) == 2
	}, waitFor, tick)

	stranger := newBridgeChannel(r, channel.NewLocal("stranger"), nil, nil)
	assert.True(t, errors.Is(stranger.WriteAction(&Action{Type: ActionDTMFStream, Digits: "1"}), ErrNotInBridge))
}

// TestQueueLimit проверяет ограничение очереди участника
func TestQueueLimit(t *testing.T) {
	settings := DefaultSettings()
	settings.QueueLimit = 2
	r := newTestRegistry(t, WithSettings(settings))
	b, a, _ := pair(t, r, nil)

	require.NoError(t, b.Suspend(a))
	bc, ok := b.Participant(a)
	require.True(t, ok)

	require.NoError(t, bc.QueueFrame(frame.NewText("1")))
	require.NoError(t, bc.QueueFrame(frame.NewText("2")))
	err := bc.QueueFrame(frame.NewText("3"))
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.True(t, IsRecoverable(err))

	// очередь участника строго FIFO
	require.NoError(t, b.Unsuspend(a))
	require.Eventually(t, func() bool { return len(a.WrittenOfType(frame.TypeText)) == 2 }, waitFor, tick)
	texts := a.WrittenOfType(frame.TypeText)
	assert.Equal(t, "1", texts[0].Text)
	assert.Equal(t, "2", texts[1].Text)
	require.Eventually(t, func() bool { return bc.Activity() == ActivityIdle }, waitFor, tick)
}
