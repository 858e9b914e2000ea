package xge

import (
	"github.com/BurntSushi/xge/display"
	"github.com/pkg/errors"
)

// WireToEvent decodes a wire generic event with the codec registered for
// its extension field. It reports false when the connection's state can't
// be set up, when buf is short, or when nothing is registered for the
// extension; the last case is logged.
//
// Registries install this as d's hook for GenericEvent, so most callers
// never use it directly.
func (r *Registry) WireToEvent(d Display, buf []byte) (display.Event, bool) {
	state, err := r.init(d)
	if err != nil {
		r.logger().Warn().Err(err).Msg("dropping generic event")
		return nil, false
	}
	if len(buf) < 32 {
		r.logger().Warn().Int("len", len(buf)).Msg("dropping short generic event")
		return nil, false
	}

	ext := buf[1]
	c, ok := r.lookup(state, ext)
	if !ok {
		r.unknownExtension("wire to event", ext)
		return nil, false
	}
	return c.Decode(d, buf)
}

// EventToWire encodes ev with the codec registered for the extension in its
// header. ev must be Generic.
//
// If no codec is registered EventToWire logs it and returns nil, nil.
// Unlike WireToEvent it does not report failure, and it never sets up
// state for d.
func (r *Registry) EventToWire(d Display, ev display.Event) ([]byte, error) {
	g, ok := ev.(Generic)
	if !ok {
		return nil, errors.Wrapf(ErrNotGeneric, "%T", ev)
	}
	ext := g.GenericHeader().Extension

	r.mu.Lock()
	var state *extState
	if info, ok := r.displays[d]; ok {
		state = info.state
	}
	r.mu.Unlock()

	c, ok := r.lookup(state, ext)
	if !ok {
		r.unknownExtension("event to wire", ext)
		return nil, nil
	}
	return c.Encode(d, ev)
}

func (r *Registry) lookup(state *extState, ext byte) (Codec, bool) {
	if state == nil {
		return Codec{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(state.records) - 1; i >= 0; i-- {
		if state.records[i].extension == ext {
			return state.records[i].codec, true
		}
	}
	return Codec{}, false
}

func (r *Registry) unknownExtension(op string, ext byte) {
	report := func() {
		r.logger().Warn().
			Str("op", op).
			Uint8("extension", ext).
			Msgf("unknown extension %d, this should never happen", ext)
	}
	if r.diag == nil {
		report()
		return
	}
	r.diag.Do(report)
}
