package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_bridge/pkg/channel"
	"github.com/arzzra/soft_bridge/pkg/frame"
)

func mergeFixture(t *testing.T) (*Registry, *mockTech, *Bridge, *Bridge, []*channel.Local) {
	t.Helper()
	r := newTestRegistry(t)
	tech := addTech(t, r, "multi", Capability1To1Mix|CapabilityMultiMix, PreferenceMedium)

	x := newTestBridge(t, r, CapabilityMultiMix, 0)
	y := newTestBridge(t, r, CapabilityMultiMix, 0)

	x1 := channel.NewLocal("x1")
	y1 := channel.NewLocal("y1")
	y2 := channel.NewLocal("y2")
	require.NoError(t, x.Impart(x1, nil))
	require.NoError(t, y.Impart(y1, nil))
	require.NoError(t, y.Impart(y2, nil))
	return r, tech, x, y, []*channel.Local{x1, y1, y2}
}

// TestMerge проверяет перенос участников с сохранением порядка
func TestMerge(t *testing.T) {
	r, _, x, y, chans := mergeFixture(t)
	x1, y1, y2 := chans[0], chans[1], chans[2]

	remaining, err := Merge(x, y)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	assert.Equal(t, []Channel{x1, y1, y2}, x.Channels())
	assert.Equal(t, 0, y.NumChannels())
	assert.Equal(t, 3, x.NumActive())
	assertInvariant(t, x)
	assertInvariant(t, y)

	bc, ok := r.FindChannel(y1)
	require.True(t, ok)
	assert.Same(t, x, bc.Bridge())
	assert.Equal(t, x.ID(), bc.logger().Data["bridge"], "логгер участника называет новый мост")

	// кадры идут через новый мост
	require.NoError(t, y1.Inject(frame.NewText("after merge")))
	require.Eventually(t, func() bool {
		return len(x1.WrittenOfType(frame.TypeText)) == 1 && len(y2.WrittenOfType(frame.TypeText)) == 1
	}, waitFor, tick)

	// пустой src уничтожает вызывающий
	require.NoError(t, y.Destroy())
	assert.Equal(t, 1, r.Count())
}

// TestMergeInhibit проверяет запрет слияния
func TestMergeInhibit(t *testing.T) {
	r, _, x, y, chans := mergeFixture(t)

	x.MergeInhibit(1)
	remaining, err := Merge(x, y)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMergeInhibited))
	assert.True(t, IsRecoverable(err))
	assert.Equal(t, 2, remaining)
	assert.Equal(t, 1, x.NumChannels())

	// запрет через участника возвращает его мост
	bc, ok := r.FindChannel(chans[1])
	require.True(t, ok)
	assert.Same(t, y, bc.MergeInhibit(2))
	assert.Equal(t, 2, y.MergeInhibited())

	x.MergeInhibit(-1)
	y.MergeInhibit(-2)
	assert.Equal(t, 0, x.MergeInhibited())

	// счетчик не опускается ниже нуля
	y.MergeInhibit(-5)
	assert.Equal(t, 0, y.MergeInhibited())

	remaining, err = Merge(x, y)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	stranger := newBridgeChannel(r, channel.NewLocal("stranger"), nil, nil)
	assert.Nil(t, stranger.MergeInhibit(1))
}

// TestMergePartial проверяет слияние, когда dst принимает не всех
func TestMergePartial(t *testing.T) {
	_, tech, x, y, chans := mergeFixture(t)
	x1, y1, y2 := chans[0], chans[1], chans[2]

	tech.Reject("y1")
	remaining, err := Merge(x, y)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	assert.Equal(t, []Channel{x1, y2}, x.Channels())
	assert.Equal(t, []Channel{y1}, y.Channels())
	assertInvariant(t, x)
	assertInvariant(t, y)
}

// TestMergePushFailure проверяет возврат участника в src при ошибке подключения
func TestMergePushFailure(t *testing.T) {
	_, tech, x, y, chans := mergeFixture(t)

	tech.FailPush("y2", errPushFailed)
	remaining, err := Merge(x, y)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining, "участник, не подключенный ни к одному мосту, завершается")
	assert.Equal(t, []Channel{chans[0], chans[1]}, x.Channels())
	assertInvariant(t, y)
}

// TestMergePushFailureKeepsOrder проверяет, что участник, не подключенный
// к dst, возвращается в src на прежнее место
func TestMergePushFailureKeepsOrder(t *testing.T) {
	r, tech, x, y, chans := mergeFixture(t)
	x1, y1, y2 := chans[0], chans[1], chans[2]

	tech.FailPushOnce("y1", errPushFailed)
	tech.Reject("y2")

	remaining, err := Merge(x, y)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	assert.Equal(t, []Channel{y1, y2}, y.Channels())
	assert.Equal(t, []Channel{x1}, x.Channels())
	assertInvariant(t, x)
	assertInvariant(t, y)

	bc, ok := r.FindChannel(y1)
	require.True(t, ok)
	assert.Same(t, y, bc.Bridge())
	assert.Equal(t, StateWait, bc.State())
}

// TestMergeErrors проверяет отказы слияния
func TestMergeErrors(t *testing.T) {
	r, _, x, y, _ := mergeFixture(t)

	_, err := Merge(nil, y)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = Merge(x, x)
	assert.True(t, errors.Is(err, ErrSameBridge))

	raw, err := r.BaseInit(r.Alloc(0, nil), CapabilityMultiMix, 0)
	require.NoError(t, err)
	_, err = Merge(raw, y)
	assert.True(t, errors.Is(err, ErrBridgeNotRegistered))

	y.Dissolve()
	_, err = Merge(x, y)
	assert.True(t, errors.Is(err, ErrBridgeDissolved))
	assert.Equal(t, 1, x.NumChannels())
}

// TestSmartReconfigure проверяет смену технологии умного моста
func TestSmartReconfigure(t *testing.T) {
	r := newTestRegistry(t)
	one := addTech(t, r, "one", Capability1To1Mix, PreferenceMedium)
	multi := addTech(t, r, "multi", CapabilityMultiMix, PreferenceLow)

	b := newTestBridge(t, r, Capability1To1Mix, FlagSmart)
	assert.Equal(t, "one", b.Technology())

	a := channel.NewLocal("a")
	c := channel.NewLocal("c")
	d := channel.NewLocal("d")
	require.NoError(t, b.Impart(a, nil))
	require.NoError(t, b.Impart(c, nil))
	assert.Equal(t, "one", b.Technology())

	require.NoError(t, b.Impart(d, nil))
	assert.Equal(t, "multi", b.Technology())
	assert.Equal(t, 1, one.Destroyed(), "замененная технология уничтожается через очередь моста")
	assert.Equal(t, []string{"push:a", "push:c", "pull:a", "pull:c"}, one.Calls())
	assert.Equal(t, []string{"push:a", "push:c", "push:d"}, multi.Calls())

	bc, ok := b.Participant(a)
	require.True(t, ok)
	assert.Equal(t, "multi", bc.TechPvt())

	// без флага smart третий участник не помещается
	plain := newTestBridge(t, r, Capability1To1Mix, 0)
	require.NoError(t, plain.Impart(channel.NewLocal("p1"), nil))
	require.NoError(t, plain.Impart(channel.NewLocal("p2"), nil))
	err := plain.Impart(channel.NewLocal("p3"), nil)
	assert.True(t, errors.Is(err, ErrPushRejected))
}
