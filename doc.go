/*
Package xge is the client side of the X Generic Event Extension (XGE).

XGE lets any extension send events longer than the 32 bytes of a core
event. All of them share a single event code, 35, and are told apart by the
extension field at byte 1, which holds the major opcode of the extension
that owns the event. Since one event code can only have one decoder on a
connection, extensions can't install their own; instead they register a
Codec here, and the registry routes each generic event to the codec of its
extension.

Registering

The first time a connection is used, the registry looks up the extension,
asks the server which version it speaks and hooks itself into the
connection's event decoding for code 35. The version query is sent at most
once per connection. If it fails nothing is kept and the error is returned;
the next call tries again.

	X, err := display.NewConn()
	if err != nil {
		log.Fatal(err)
	}

	codes, err := X.Extension("XInputExtension")
	if err != nil {
		log.Fatal(err)
	}

	err = xge.Register(X, codes.MajorOpcode, xge.Codec{
		Decode: decodeXIEvent,
		Encode: encodeXIEvent,
	})

After that, generic events of that extension come out of X.WaitForEvent
already decoded. When the same extension registers twice on a connection,
the latest codec wins.

Events

Native generic events embed GenericEvent, which carries the header fields
and makes them implement Generic. EventToWire uses the header's Extension
field to pick a codec.

Unknown extensions

A generic event for an extension nobody registered is dropped and logged.
Encoding such an event is logged too but reported as success with no bytes.
Logging goes through zerolog; see WithLogger and WithDiagnostics.

Closing

Closing the connection removes everything the registry keeps for it.

Tests

xge_test.go drives the registry against a fake connection that counts what
is asked of it. conn_test.go runs the same paths against a display.Conn
talking to the scripted server in display/displaytest.
*/
package xge
