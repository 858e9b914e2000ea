// Copyright 2009 The XGB Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package display

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
)

// Address families of Xauthority entries, as in X11/Xauth.h.
const (
	familyInternet  = 0
	familyInternet6 = 6
	familyLocal     = 256
	familyWild      = 65535
)

var errNoAuthority = errors.New("display: no Xauthority entry for display")

// authEntry is one record of an Xauthority file. Every field is a
// big-endian length followed by that many bytes.
type authEntry struct {
	family  uint16
	address string
	display string
	name    string
	data    []byte
}

// matches reports whether the entry is meant for a. Local entries match
// connections to this machine by hostname, wild entries match anything.
func (e authEntry) matches(a address, hostname string) bool {
	if e.display != a.display {
		return false
	}
	switch e.family {
	case familyWild:
		return true
	case familyLocal:
		return a.local() && e.address == hostname
	case familyInternet, familyInternet6:
		if a.local() {
			return false
		}
		// Internet entries hold the raw address bytes.
		if ip := net.ParseIP(a.host); ip != nil {
			if ip4 := ip.To4(); ip4 != nil && e.family == familyInternet {
				return e.address == string(ip4)
			}
			return e.address == string(ip.To16())
		}
		return e.address == a.host
	}
	return false
}

// local reports whether a reaches a server on this machine.
func (a address) local() bool {
	return a.protocol == "unix" || a.host == "" || a.host == "localhost"
}

func readAuthField(r *bufio.Reader) ([]byte, error) {
	var n [2]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	b := make([]byte, binary.BigEndian.Uint16(n[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return b, nil
}

// readAuthEntry reads the next entry; io.EOF means there is none.
func readAuthEntry(r *bufio.Reader) (authEntry, error) {
	var e authEntry
	var family [2]byte
	if _, err := io.ReadFull(r, family[:]); err != nil {
		if err == io.EOF {
			return e, io.EOF
		}
		return e, io.ErrUnexpectedEOF
	}
	e.family = binary.BigEndian.Uint16(family[:])

	var fields [4][]byte
	for i := range fields {
		b, err := readAuthField(r)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return e, err
		}
		fields[i] = b
	}
	e.address = string(fields[0])
	e.display = string(fields[1])
	e.name = string(fields[2])
	e.data = fields[3]
	return e, nil
}

// authorityFile returns the path of the X authority file.
func authorityFile() (string, error) {
	if fname := os.Getenv("XAUTHORITY"); len(fname) > 0 {
		return fname, nil
	}
	home := os.Getenv("HOME")
	if len(home) == 0 {
		return "", errors.New("display: Xauthority not found: $XAUTHORITY, $HOME not set")
	}
	return home + "/.Xauthority", nil
}

// readAuthority finds the first Xauthority entry for a.
func readAuthority(a address) (authEntry, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return authEntry{}, errors.Wrap(err, "display: hostname")
	}

	fname, err := authorityFile()
	if err != nil {
		return authEntry{}, err
	}
	f, err := os.Open(fname)
	if err != nil {
		return authEntry{}, errors.Wrap(err, "display: opening Xauthority")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		e, err := readAuthEntry(r)
		if err == io.EOF {
			return authEntry{}, errors.Wrapf(errNoAuthority, "%q", a.display)
		}
		if err != nil {
			return authEntry{}, errors.Wrapf(err, "display: reading %s", fname)
		}
		if e.matches(a, hostname) {
			return e, nil
		}
	}
}
