package display

import (
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// address is a parsed DISPLAY string.
type address struct {
	protocol string // "unix" or "tcp"
	host     string
	path     string // socket path for protocol "unix"
	display  string // the display number, as written
	screen   int
}

// parseDisplay splits a DISPLAY string.
//
//	":1"                 -> unix /tmp/.X11-unix/X1
//	"/tmp/launch-123/:0" -> unix /tmp/launch-123/:0
//	"hostname:2.1"       -> tcp hostname:6002, screen 1
//	"tcp/hostname:1.0"   -> tcp hostname:6001
//	"unix/:0"            -> unix /tmp/.X11-unix/X0
func parseDisplay(dpy string) (address, error) {
	var a address
	if len(dpy) == 0 {
		return a, errors.New("display: empty display string")
	}

	colon := strings.LastIndex(dpy, ":")
	if colon < 0 {
		return a, errors.Errorf("display: bad display string %q", dpy)
	}

	if dpy[0] == '/' {
		a.protocol = "unix"
		a.path = dpy
	} else {
		slash := strings.LastIndex(dpy[:colon], "/")
		if slash >= 0 {
			a.protocol = dpy[:slash]
			a.host = dpy[slash+1 : colon]
		} else {
			a.host = dpy[:colon]
		}
	}

	rest := dpy[colon+1:]
	if len(rest) == 0 {
		return a, errors.Errorf("display: bad display string %q", dpy)
	}
	if dot := strings.LastIndex(rest, "."); dot >= 0 {
		screen, err := strconv.Atoi(rest[dot+1:])
		if err != nil {
			return a, errors.Wrapf(err, "display: bad screen in %q", dpy)
		}
		a.screen = screen
		rest = rest[:dot]
	}
	if _, err := strconv.Atoi(rest); err != nil {
		return a, errors.Wrapf(err, "display: bad display number in %q", dpy)
	}
	a.display = rest

	if a.protocol == "" {
		if a.host == "" {
			a.protocol = "unix"
		} else {
			a.protocol = "tcp"
		}
	}
	switch a.protocol {
	case "unix":
		if a.path == "" {
			a.path = "/tmp/.X11-unix/X" + a.display
		}
	case "tcp", "inet", "inet6":
		a.protocol = "tcp"
	default:
		return a, errors.Errorf("display: unknown protocol %q in %q",
			a.protocol, dpy)
	}
	return a, nil
}

// dial opens the socket for the display. If dpy is empty it is taken from
// os.Getenv("DISPLAY").
func dial(dpy string) (net.Conn, address, error) {
	if len(dpy) == 0 {
		dpy = os.Getenv("DISPLAY")
	}
	a, err := parseDisplay(dpy)
	if err != nil {
		return nil, a, err
	}

	var conn net.Conn
	if a.protocol == "unix" {
		conn, err = net.Dial("unix", a.path)
	} else {
		n, _ := strconv.Atoi(a.display)
		conn, err = net.Dial("tcp",
			net.JoinHostPort(a.host, strconv.Itoa(6000+n)))
	}
	if err != nil {
		return nil, a, errors.Wrapf(err, "display: cannot connect to %q", dpy)
	}
	return conn, a, nil
}
