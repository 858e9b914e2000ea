/*
Package display is the connection layer the XGE dispatcher sits on. It
speaks just enough of the core X protocol to be a real client library:
the setup handshake (with MIT-MAGIC-COOKIE-1 authorization), QueryExtension,
sequence-numbered request/reply, X errors and the event stream.

It is modeled on XGB: a Conn owns a writer goroutine that hands out
sequence numbers in write order and a reader goroutine that routes replies
to cookies and queues events. GenericEvents are read to their full length.

What it offers extensions is the hook surface of a classic X library:

  - Extension(name) finds, and caches, the codes of an extension;
  - Lock and Unlock serialize multi-step work on one connection;
  - RoundTrip sends a request and blocks for its reply;
  - SetWireToEvent and SetEventToWire install per-event-code codecs;
  - OnClose runs a function when the connection closes.

Example

	X, err := display.NewConn()
	if err != nil {
		log.Fatal(err)
	}
	defer X.Close()

	codes, err := X.Extension("Generic Event Extension")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("major opcode %d\n", codes.MajorOpcode)

Diagnostics go to Logger, a zerolog logger on stderr; set PrintLog to false
to silence them.
*/
package display
