package xge

import (
	"sync"
	"time"

	"github.com/BurntSushi/xge/display"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Display is what the registry needs from a connection. *display.Conn
// satisfies it. Implementations are used as map keys and must be
// comparable; pointers are.
type Display interface {
	Lock()
	Unlock()
	Extension(name string) (display.Codes, error)
	RoundTrip(req []byte) ([]byte, error)
	SetWireToEvent(code byte, fn display.WireToEventFunc) display.WireToEventFunc
	SetEventToWire(code byte, fn display.EventToWireFunc) display.EventToWireFunc
	OnClose(fn func())
}

var _ Display = (*display.Conn)(nil)

// DecodeFunc turns a wire generic event into a native event. Returning
// false drops the event.
type DecodeFunc func(d Display, buf []byte) (display.Event, bool)

// EncodeFunc turns a native event back into its wire form.
type EncodeFunc func(d Display, ev display.Event) ([]byte, error)

// Codec is the pair of conversions an extension registers for its generic
// events.
type Codec struct {
	Decode DecodeFunc
	Encode EncodeFunc
}

type record struct {
	extension byte
	codec     Codec
}

// extState exists once the version query on a connection succeeded.
type extState struct {
	version Version
	// In registration order; lookups scan from the end so the latest
	// registration for an extension wins.
	records []record
}

type displayInfo struct {
	codes display.Codes
	state *extState

	// Hooks that were installed for GenericEvent before ours; put back on
	// close.
	prevWire  display.WireToEventFunc
	prevEvent display.EventToWireFunc
}

// Registry routes generic events on each connection to the codec the
// owning extension registered. The zero value is not usable; use
// NewRegistry.
//
// A connection has one GenericEvent hook, so it should be used with one
// registry. A second registry touching the same connection takes the hook
// over (with a warning) and hands it back when the connection closes.
//
// Events for an extension with no codec are logged, by default the first
// 10 and after that at most one per second; see WithDiagnostics.
//
// The registry's lock is never held while a codec runs or while a request
// is in flight.
type Registry struct {
	mu       sync.Mutex
	displays map[Display]*displayInfo

	log  *zerolog.Logger
	diag *rate.Sometimes
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		displays: make(map[Display]*displayInfo),
		diag:     &rate.Sometimes{First: 10, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the registry used by the package level functions.
func Default() *Registry { return defaultRegistry }

// Register adds c as the codec for generic events whose extension field is
// extension. A later registration for the same extension on the same
// connection takes precedence over earlier ones.
//
// The first call on a connection finds the extension and its version. If
// either fails nothing is recorded and the error is returned.
func (r *Registry) Register(d Display, extension byte, c Codec) error {
	if c.Decode == nil || c.Encode == nil {
		return ErrNoCodec
	}
	state, err := r.init(d)
	if err != nil {
		return err
	}

	r.mu.Lock()
	state.records = append(state.records, record{extension: extension, codec: c})
	r.mu.Unlock()
	return nil
}

// QueryExtension reports the event and error bases the server assigned to
// the Generic Event Extension. It initializes the connection's state like
// Register does.
func (r *Registry) QueryExtension(d Display) (eventBase, errorBase byte, err error) {
	info, err := r.findDisplay(d)
	if err != nil {
		return 0, 0, err
	}
	if _, err := r.initState(d, info); err != nil {
		return 0, 0, err
	}
	return info.codes.FirstEvent, info.codes.FirstError, nil
}

// QueryVersion returns the version the server agreed to. The request is
// sent once per connection; later calls return the cached answer.
func (r *Registry) QueryVersion(d Display) (Version, error) {
	state, err := r.init(d)
	if err != nil {
		return Version{}, err
	}
	return state.version, nil
}

// Extensions lists the extension ids with a codec on d, most recent
// registration first. Ids registered more than once appear more than once.
// It never talks to the server.
func (r *Registry) Extensions(d Display) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.displays[d]
	if !ok || info.state == nil {
		return nil
	}
	ids := make([]byte, 0, len(info.state.records))
	for i := len(info.state.records) - 1; i >= 0; i-- {
		ids = append(ids, info.state.records[i].extension)
	}
	return ids
}

func (r *Registry) init(d Display) (*extState, error) {
	info, err := r.findDisplay(d)
	if err != nil {
		return nil, err
	}
	return r.initState(d, info)
}

// findDisplay returns the bookkeeping for d, looking up the extension and
// installing the connection hooks the first time d is seen.
func (r *Registry) findDisplay(d Display) (*displayInfo, error) {
	r.mu.Lock()
	info, ok := r.displays[d]
	r.mu.Unlock()
	if ok {
		return info, nil
	}

	codes, err := d.Extension(Name)
	if err != nil {
		return nil, errors.Wrap(err, "xge: finding extension")
	}

	r.mu.Lock()
	if info, ok := r.displays[d]; ok {
		r.mu.Unlock()
		return info, nil
	}
	info = &displayInfo{codes: codes}
	r.displays[d] = info

	info.prevWire = d.SetWireToEvent(display.GenericEvent, func(buf []byte) (display.Event, bool) {
		return r.WireToEvent(d, buf)
	})
	info.prevEvent = d.SetEventToWire(display.GenericEvent, func(ev display.Event) ([]byte, error) {
		return r.EventToWire(d, ev)
	})
	r.mu.Unlock()

	if info.prevWire != nil || info.prevEvent != nil {
		r.logger().Warn().Msg("replacing a generic event hook installed by someone else; " +
			"its extensions get no events until this connection closes")
	}
	// Outside r.mu: a closed display runs the hook right away.
	d.OnClose(func() { r.closeDisplay(d) })
	return info, nil
}

// initState creates the per-connection state after the version query
// succeeds. The query runs with d locked, which also keeps two callers
// from both sending it.
func (r *Registry) initState(d Display, info *displayInfo) (*extState, error) {
	r.mu.Lock()
	state := info.state
	r.mu.Unlock()
	if state != nil {
		return state, nil
	}

	d.Lock()
	defer d.Unlock()

	r.mu.Lock()
	state = info.state
	r.mu.Unlock()
	if state != nil {
		return state, nil
	}

	reply, err := d.RoundTrip(queryVersionRequest(info.codes.MajorOpcode))
	if err != nil {
		return nil, errors.Wrap(err, "xge: querying version")
	}
	v, err := readQueryVersionReply(reply)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if info.state == nil {
		info.state = &extState{version: v}
	}
	return info.state, nil
}

// closeDisplay drops everything the registry holds for d and gives the
// GenericEvent hooks back to whoever had them before. It runs as a close
// hook of d.
func (r *Registry) closeDisplay(d Display) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.displays[d]
	if !ok {
		return
	}
	if info.state != nil {
		info.state.records = nil
		info.state = nil
	}
	delete(r.displays, d)

	d.SetWireToEvent(display.GenericEvent, info.prevWire)
	d.SetEventToWire(display.GenericEvent, info.prevEvent)
}

func (r *Registry) logger() *zerolog.Logger {
	if r.log != nil {
		return r.log
	}
	if !display.PrintLog {
		nop := zerolog.Nop()
		return &nop
	}
	l := display.Logger.With().Str("ext", "XGE").Logger()
	return &l
}

// Register adds c to the default registry.
func Register(d Display, extension byte, c Codec) error {
	return defaultRegistry.Register(d, extension, c)
}

// QueryExtension asks the default registry.
func QueryExtension(d Display) (eventBase, errorBase byte, err error) {
	return defaultRegistry.QueryExtension(d)
}

// QueryVersion asks the default registry.
func QueryVersion(d Display) (Version, error) {
	return defaultRegistry.QueryVersion(d)
}
