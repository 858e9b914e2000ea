package xge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/BurntSushi/xge/display"
)

func init() {
	display.PrintLog = false
}

// fakeDisplay counts what the registry asks of a connection.
type fakeDisplay struct {
	mu sync.Mutex // the display lock

	codes      display.Codes
	extErr     error
	major      uint16
	minor      uint16
	versionErr error

	state              sync.Mutex
	extQueries         int
	versionQueries     int
	unlockedRoundTrips int
	wireToEvent        display.WireToEventFunc
	eventToWire        display.EventToWireFunc
	closeHooks         []func()
	closed             bool
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{
		codes: display.Codes{Name: Name, MajorOpcode: 128, FirstEvent: 0, FirstError: 0},
		major: 1,
	}
}

func (f *fakeDisplay) Lock()   { f.mu.Lock() }
func (f *fakeDisplay) Unlock() { f.mu.Unlock() }

func (f *fakeDisplay) Extension(name string) (display.Codes, error) {
	f.state.Lock()
	defer f.state.Unlock()
	if f.closed {
		return display.Codes{}, display.ErrClosed
	}
	f.extQueries++
	if f.extErr != nil {
		return display.Codes{}, f.extErr
	}
	if name != Name {
		return display.Codes{}, display.ErrExtensionNotPresent
	}
	return f.codes, nil
}

func (f *fakeDisplay) RoundTrip(req []byte) ([]byte, error) {
	f.state.Lock()
	defer f.state.Unlock()
	if f.mu.TryLock() {
		f.unlockedRoundTrips++
		f.mu.Unlock()
	}
	if req[0] != f.codes.MajorOpcode || req[1] != queryVersionOpcode {
		return nil, fmt.Errorf("unexpected request %v", req)
	}
	if f.closed {
		return nil, display.ErrClosed
	}
	f.versionQueries++
	if f.versionErr != nil {
		return nil, f.versionErr
	}
	reply := make([]byte, 32)
	reply[0] = 1
	display.Put16(reply[8:], f.major)
	display.Put16(reply[10:], f.minor)
	return reply, nil
}

func (f *fakeDisplay) SetWireToEvent(code byte, fn display.WireToEventFunc) display.WireToEventFunc {
	f.state.Lock()
	defer f.state.Unlock()
	if code != display.GenericEvent {
		panic("hook for wrong event code")
	}
	old := f.wireToEvent
	f.wireToEvent = fn
	return old
}

func (f *fakeDisplay) SetEventToWire(code byte, fn display.EventToWireFunc) display.EventToWireFunc {
	f.state.Lock()
	defer f.state.Unlock()
	if code != display.GenericEvent {
		panic("hook for wrong event code")
	}
	old := f.eventToWire
	f.eventToWire = fn
	return old
}

func (f *fakeDisplay) OnClose(fn func()) {
	f.state.Lock()
	if f.closed {
		f.state.Unlock()
		fn()
		return
	}
	f.closeHooks = append(f.closeHooks, fn)
	f.state.Unlock()
}

func (f *fakeDisplay) close() {
	f.state.Lock()
	hooks := f.closeHooks
	f.closeHooks = nil
	f.closed = true
	f.state.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

func (f *fakeDisplay) counts() (ext, version int) {
	f.state.Lock()
	defer f.state.Unlock()
	return f.extQueries, f.versionQueries
}

// tagged is what the test codecs decode to.
type tagged struct {
	GenericEvent
	codec string
}

// tagCodec decodes every event into a tagged event naming the codec and
// encodes by writing the name after the header.
func tagCodec(name string) Codec {
	return Codec{
		Decode: func(d Display, buf []byte) (display.Event, bool) {
			h, err := ReadGenericHeader(buf)
			if err != nil {
				return nil, false
			}
			return tagged{GenericEvent: h, codec: name}, true
		},
		Encode: func(d Display, ev display.Event) ([]byte, error) {
			buf := ev.(Generic).GenericHeader().Bytes()
			copy(buf[10:], name)
			return buf, nil
		},
	}
}

func wireEvent(ext byte) []byte {
	return GenericEvent{Extension: ext, EventType: 1}.Bytes()
}

// logLines decodes the JSON lines zerolog wrote to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]interface{}
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}
	return lines
}

func newLoggedRegistry(opts ...Option) (*Registry, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewRegistry(append([]Option{WithLogger(zerolog.New(&buf))}, opts...)...), &buf
}

func TestRegisterRoutesByExtension(t *testing.T) {
	r := NewRegistry()
	d := newFakeDisplay()

	const n = 40
	for i := 0; i < n; i++ {
		require.NoError(t, r.Register(d, byte(i), tagCodec(fmt.Sprint(i))))
	}
	for i := n - 1; i >= 0; i-- {
		ev, ok := r.WireToEvent(d, wireEvent(byte(i)))
		require.True(t, ok, "extension %d", i)
		assert.Equal(t, fmt.Sprint(i), ev.(tagged).codec)
		assert.Equal(t, byte(i), ev.(tagged).Extension)
	}

	ext, version := d.counts()
	assert.Equal(t, 1, ext)
	assert.Equal(t, 1, version)
}

func TestLatestRegistrationWins(t *testing.T) {
	r := NewRegistry()
	d := newFakeDisplay()

	require.NoError(t, r.Register(d, 7, tagCodec("first")))
	require.NoError(t, r.Register(d, 8, tagCodec("other")))
	require.NoError(t, r.Register(d, 7, tagCodec("second")))

	ev, ok := r.WireToEvent(d, wireEvent(7))
	require.True(t, ok)
	assert.Equal(t, "second", ev.(tagged).codec)

	buf, err := r.EventToWire(d, tagged{GenericEvent: GenericEvent{Extension: 7}})
	require.NoError(t, err)
	assert.Equal(t, "second", string(bytes.TrimRight(buf[10:], "\x00")))

	assert.Equal(t, []byte{7, 8, 7}, r.Extensions(d))
}

func TestUnknownExtension(t *testing.T) {
	r, logs := newLoggedRegistry()
	d := newFakeDisplay()
	require.NoError(t, r.Register(d, 5, tagCodec("five")))

	ev, ok := r.WireToEvent(d, wireEvent(9))
	assert.False(t, ok)
	assert.Nil(t, ev)

	buf, err := r.EventToWire(d, tagged{GenericEvent: GenericEvent{Extension: 9}})
	assert.NoError(t, err)
	assert.Nil(t, buf)

	lines := logLines(t, logs)
	require.Len(t, lines, 2)
	assert.Equal(t, "wire to event", lines[0]["op"])
	assert.Equal(t, "event to wire", lines[1]["op"])
	for _, line := range lines {
		assert.Equal(t, "warn", line["level"])
		assert.EqualValues(t, 9, line["extension"])
		assert.Equal(t, "unknown extension 9, this should never happen", line["message"])
	}
}

func TestEventToWireNeverInitializes(t *testing.T) {
	r, logs := newLoggedRegistry()
	d := newFakeDisplay()

	buf, err := r.EventToWire(d, tagged{GenericEvent: GenericEvent{Extension: 5}})
	assert.NoError(t, err)
	assert.Nil(t, buf)
	assert.Len(t, logLines(t, logs), 1)

	ext, version := d.counts()
	assert.Zero(t, ext)
	assert.Zero(t, version)
	assert.Empty(t, r.displays)
}

func TestEventToWireNotGeneric(t *testing.T) {
	r := NewRegistry()
	d := newFakeDisplay()
	require.NoError(t, r.Register(d, 5, tagCodec("five")))

	_, err := r.EventToWire(d, display.UnknownEvent{Code: 2})
	assert.Equal(t, ErrNotGeneric, errors.Cause(err))
}

func TestVersionQueryFailure(t *testing.T) {
	r := NewRegistry()
	d := newFakeDisplay()
	boom := errors.New("boom")
	d.versionErr = boom

	err := r.Register(d, 5, tagCodec("five"))
	require.Error(t, err)
	assert.Equal(t, boom, errors.Cause(err))
	assert.Nil(t, r.Extensions(d))

	_, err = r.QueryVersion(d)
	assert.Equal(t, boom, errors.Cause(err))
	_, _, err = r.QueryExtension(d)
	assert.Equal(t, boom, errors.Cause(err))

	ev, ok := r.WireToEvent(d, wireEvent(5))
	assert.False(t, ok)
	assert.Nil(t, ev)

	// Nothing is kept, so the next call asks again.
	d.state.Lock()
	d.versionErr = nil
	d.state.Unlock()
	require.NoError(t, r.Register(d, 5, tagCodec("five")))
	assert.Equal(t, []byte{5}, r.Extensions(d))

	ext, version := d.counts()
	assert.Equal(t, 1, ext)
	assert.Equal(t, 5, version)
}

func TestExtensionNotPresent(t *testing.T) {
	r := NewRegistry()
	d := newFakeDisplay()
	d.extErr = errors.Wrap(display.ErrExtensionNotPresent, "test")

	err := r.Register(d, 5, tagCodec("five"))
	assert.Equal(t, display.ErrExtensionNotPresent, errors.Cause(err))

	d.state.Lock()
	defer d.state.Unlock()
	assert.Nil(t, d.wireToEvent)
	assert.Nil(t, d.eventToWire)
	assert.Empty(t, d.closeHooks)
	assert.Zero(t, d.versionQueries)
}

func TestNilCodec(t *testing.T) {
	r := NewRegistry()
	d := newFakeDisplay()

	assert.Equal(t, ErrNoCodec, r.Register(d, 5, Codec{Decode: tagCodec("x").Decode}))
	assert.Equal(t, ErrNoCodec, r.Register(d, 5, Codec{Encode: tagCodec("x").Encode}))

	ext, _ := d.counts()
	assert.Zero(t, ext)
}

func TestVersionIsCached(t *testing.T) {
	r := NewRegistry()
	d := newFakeDisplay()
	d.codes.FirstEvent = 64
	d.codes.FirstError = 150
	d.major, d.minor = 1, 3

	for i := 0; i < 3; i++ {
		v, err := r.QueryVersion(d)
		require.NoError(t, err)
		assert.Equal(t, Version{Major: 1, Minor: 3}, v)
	}
	require.NoError(t, r.Register(d, 5, tagCodec("five")))
	eventBase, errorBase, err := r.QueryExtension(d)
	require.NoError(t, err)
	assert.Equal(t, byte(64), eventBase)
	assert.Equal(t, byte(150), errorBase)

	ext, version := d.counts()
	assert.Equal(t, 1, ext)
	assert.Equal(t, 1, version)
	d.state.Lock()
	assert.Zero(t, d.unlockedRoundTrips, "version query sent without the display lock")
	d.state.Unlock()
}

func TestConcurrentRegister(t *testing.T) {
	r := NewRegistry()
	d := newFakeDisplay()

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		ext := byte(i)
		g.Go(func() error {
			return r.Register(d, ext, tagCodec(fmt.Sprint(ext)))
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, r.Extensions(d), 16)
	_, version := d.counts()
	assert.Equal(t, 1, version)
	for i := 0; i < 16; i++ {
		ev, ok := r.WireToEvent(d, wireEvent(byte(i)))
		require.True(t, ok)
		assert.Equal(t, fmt.Sprint(i), ev.(tagged).codec)
	}
}

func TestCloseDropsState(t *testing.T) {
	r := NewRegistry()
	d := newFakeDisplay()
	other := newFakeDisplay()
	require.NoError(t, r.Register(d, 5, tagCodec("five")))
	require.NoError(t, r.Register(other, 5, tagCodec("other five")))

	d.close()

	assert.Nil(t, r.Extensions(d))
	r.mu.Lock()
	_, ok := r.displays[d]
	n := len(r.displays)
	r.mu.Unlock()
	assert.False(t, ok)
	assert.Equal(t, 1, n)

	ev, ok := r.WireToEvent(other, wireEvent(5))
	require.True(t, ok)
	assert.Equal(t, "other five", ev.(tagged).codec)

	other.close()
	assert.Empty(t, r.displays)

	// A closed display is not taken back in.
	_, _, err := r.QueryExtension(d)
	assert.Equal(t, display.ErrClosed, errors.Cause(err))
	assert.Equal(t, display.ErrClosed, errors.Cause(r.Register(d, 6, tagCodec("six"))))
	assert.Empty(t, r.displays)

	d.state.Lock()
	defer d.state.Unlock()
	assert.Nil(t, d.wireToEvent, "close must remove the wire hook")
	assert.Nil(t, d.eventToWire, "close must remove the encode hook")
	assert.Empty(t, d.closeHooks)
}

// closingDisplay closes right after answering the extension lookup, as if
// Close ran on another goroutine.
type closingDisplay struct{ *fakeDisplay }

func (c closingDisplay) Extension(name string) (display.Codes, error) {
	codes, err := c.fakeDisplay.Extension(name)
	c.fakeDisplay.close()
	return codes, err
}

func TestCloseWhileFinding(t *testing.T) {
	r := NewRegistry()
	d := closingDisplay{newFakeDisplay()}

	err := r.Register(d, 5, tagCodec("five"))
	assert.Equal(t, display.ErrClosed, errors.Cause(err))
	assert.Empty(t, r.displays)

	d.state.Lock()
	defer d.state.Unlock()
	assert.Nil(t, d.wireToEvent)
	assert.Empty(t, d.closeHooks)
}

func TestSecondRegistryOnOneDisplay(t *testing.T) {
	first := NewRegistry()
	second, logs := newLoggedRegistry()
	d := newFakeDisplay()

	require.NoError(t, first.Register(d, 5, tagCodec("first")))
	require.NoError(t, second.Register(d, 6, tagCodec("second")))

	lines := logLines(t, logs)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0]["message"], "replacing a generic event hook")

	d.state.Lock()
	decode := d.wireToEvent
	d.state.Unlock()
	ev, ok := decode(wireEvent(6))
	require.True(t, ok)
	assert.Equal(t, "second", ev.(tagged).codec)

	// Dropping the second registry's state hands the hook back.
	second.closeDisplay(d)
	d.state.Lock()
	decode = d.wireToEvent
	d.state.Unlock()
	ev, ok = decode(wireEvent(5))
	require.True(t, ok)
	assert.Equal(t, "first", ev.(tagged).codec)

	d.close()
	assert.Empty(t, first.displays)
	d.state.Lock()
	assert.Nil(t, d.wireToEvent)
	d.state.Unlock()
}

func TestConnectionHooks(t *testing.T) {
	r := NewRegistry()
	d := newFakeDisplay()
	require.NoError(t, r.Register(d, 5, tagCodec("five")))
	require.NoError(t, r.Register(d, 6, tagCodec("six")))

	d.state.Lock()
	decode, encode := d.wireToEvent, d.eventToWire
	hooks := len(d.closeHooks)
	d.state.Unlock()
	require.NotNil(t, decode)
	require.NotNil(t, encode)
	assert.Equal(t, 1, hooks)

	ev, ok := decode(wireEvent(6))
	require.True(t, ok)
	assert.Equal(t, "six", ev.(tagged).codec)

	buf, err := encode(ev)
	require.NoError(t, err)
	assert.Equal(t, "six", string(bytes.TrimRight(buf[10:], "\x00")))
}

// Two extensions at 5 and 9; an event for the unregistered 42 is dropped.
func TestMixedTraffic(t *testing.T) {
	r, logs := newLoggedRegistry()
	d := newFakeDisplay()
	require.NoError(t, r.Register(d, 5, tagCodec("A")))
	require.NoError(t, r.Register(d, 9, tagCodec("B")))

	ev, ok := r.WireToEvent(d, wireEvent(9))
	require.True(t, ok)
	assert.Equal(t, "B", ev.(tagged).codec)

	_, ok = r.WireToEvent(d, wireEvent(42))
	assert.False(t, ok)
	lines := logLines(t, logs)
	require.Len(t, lines, 1)
	assert.EqualValues(t, 42, lines[0]["extension"])

	buf, err := r.EventToWire(d, tagged{GenericEvent: GenericEvent{Extension: 5, EventType: 2}})
	require.NoError(t, err)
	h, err := ReadGenericHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, GenericEvent{Extension: 5, EventType: 2}, h)
	assert.Equal(t, "A", string(bytes.TrimRight(buf[10:], "\x00")))
}

func TestDecodeMayDrop(t *testing.T) {
	r := NewRegistry()
	d := newFakeDisplay()
	c := tagCodec("x")
	c.Decode = func(Display, []byte) (display.Event, bool) { return nil, false }
	require.NoError(t, r.Register(d, 5, c))

	_, ok := r.WireToEvent(d, wireEvent(5))
	assert.False(t, ok)
}

func TestShortWireEvent(t *testing.T) {
	r, logs := newLoggedRegistry()
	d := newFakeDisplay()
	require.NoError(t, r.Register(d, 5, tagCodec("five")))

	_, ok := r.WireToEvent(d, wireEvent(5)[:20])
	assert.False(t, ok)
	assert.Len(t, logLines(t, logs), 1)
}

func TestDiagnosticsAreThrottled(t *testing.T) {
	r, logs := newLoggedRegistry(WithDiagnostics(2, time.Hour))
	d := newFakeDisplay()
	require.NoError(t, r.Register(d, 5, tagCodec("five")))

	for i := 0; i < 5; i++ {
		_, ok := r.WireToEvent(d, wireEvent(77))
		assert.False(t, ok)
	}
	assert.Len(t, logLines(t, logs), 2)
}

func TestDiagnosticsUnthrottled(t *testing.T) {
	r, logs := newLoggedRegistry(WithDiagnostics(0, 0))
	d := newFakeDisplay()
	require.NoError(t, r.Register(d, 5, tagCodec("five")))

	for i := 0; i < 25; i++ {
		r.WireToEvent(d, wireEvent(77))
	}
	assert.Len(t, logLines(t, logs), 25)
}
