package display

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDisplay(t *testing.T) {
	tests := []struct {
		in   string
		want address
	}{
		{":1", address{protocol: "unix", path: "/tmp/.X11-unix/X1", display: "1"}},
		{":0.2", address{protocol: "unix", path: "/tmp/.X11-unix/X0", display: "0", screen: 2}},
		{"unix/:0", address{protocol: "unix", path: "/tmp/.X11-unix/X0", display: "0"}},
		{"/tmp/launch-123/:0", address{protocol: "unix", path: "/tmp/launch-123/:0", display: "0"}},
		{"hostname:2.1", address{protocol: "tcp", host: "hostname", display: "2", screen: 1}},
		{"tcp/hostname:1.0", address{protocol: "tcp", host: "hostname", display: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDisplay(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDisplayErrors(t *testing.T) {
	for _, in := range []string{"", "hostname", ":", ":x", ":0.y", "decnet/host:0"} {
		_, err := parseDisplay(in)
		assert.Error(t, err, "parseDisplay(%q)", in)
	}
}

type authFile []byte

func (f *authFile) add(family uint16, fields ...string) {
	*f = append(*f, byte(family>>8), byte(family))
	for _, field := range fields {
		*f = append(*f, byte(len(field)>>8), byte(len(field)))
		*f = append(*f, field...)
	}
}

func writeAuthFile(t *testing.T, f authFile) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Xauthority")
	require.NoError(t, os.WriteFile(path, f, 0o600))
	t.Setenv("XAUTHORITY", path)
}

func TestReadAuthority(t *testing.T) {
	hostname, err := os.Hostname()
	require.NoError(t, err)

	var f authFile
	f.add(familyLocal, "otherhost", "0", authName, "other")
	f.add(familyLocal, hostname, "1", "XDM-AUTHORIZATION-1", "xdm")
	f.add(familyLocal, hostname, "0", authName, "\x01\x02\x03")
	f.add(familyInternet, "remote", "2", authName, "tcp")
	f.add(familyInternet, "\x0a\x00\x00\x01", "3", authName, "ip")
	f.add(familyWild, "", "5", authName, "wild")
	writeAuthFile(t, f)

	tests := []struct {
		dpy  string
		want authEntry
	}{
		{":0", authEntry{familyLocal, hostname, "0", authName, []byte{1, 2, 3}}},
		{"unix/:1", authEntry{familyLocal, hostname, "1", "XDM-AUTHORIZATION-1", []byte("xdm")}},
		{"remote:2", authEntry{familyInternet, "remote", "2", authName, []byte("tcp")}},
		{"10.0.0.1:3", authEntry{familyInternet, "\x0a\x00\x00\x01", "3", authName, []byte("ip")}},
		{"elsewhere:5.1", authEntry{familyWild, "", "5", authName, []byte("wild")}},
	}
	for _, tt := range tests {
		a, err := parseDisplay(tt.dpy)
		require.NoError(t, err)
		got, err := readAuthority(a)
		require.NoError(t, err, tt.dpy)
		assert.Equal(t, tt.want, got, tt.dpy)
	}

	// A local entry is not used for a remote host and the reverse.
	for _, dpy := range []string{"remote:0", ":2", ":7"} {
		a, err := parseDisplay(dpy)
		require.NoError(t, err)
		_, err = readAuthority(a)
		assert.Equal(t, errNoAuthority, errors.Cause(err), dpy)
	}
}

func TestReadAuthorityTruncated(t *testing.T) {
	var f authFile
	f.add(familyLocal, "host", "0", authName, "data")
	writeAuthFile(t, f[:len(f)-2])

	a, err := parseDisplay(":0")
	require.NoError(t, err)
	_, err = readAuthority(a)
	require.Error(t, err)
	assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))
}

func TestAuthorityFile(t *testing.T) {
	t.Setenv("XAUTHORITY", "")
	t.Setenv("HOME", "/home/x")
	f, err := authorityFile()
	require.NoError(t, err)
	assert.Equal(t, "/home/x/.Xauthority", f)

	t.Setenv("HOME", "")
	_, err = authorityFile()
	assert.Error(t, err)
}

func TestSetupRequest(t *testing.T) {
	buf := setupRequest(authName, []byte{1, 2, 3})

	assert.Len(t, buf, 12+20+4)
	assert.Equal(t, byte('l'), buf[0])
	assert.Equal(t, uint16(11), Get16(buf[2:]))
	assert.Equal(t, uint16(len(authName)), Get16(buf[6:]))
	assert.Equal(t, uint16(3), Get16(buf[8:]))
	assert.Equal(t, authName, string(buf[12:12+len(authName)]))
	assert.Equal(t, []byte{1, 2, 3, 0}, buf[32:])
}

func TestQueryExtensionRequest(t *testing.T) {
	buf := queryExtensionRequest("Generic Event Extension")

	assert.Len(t, buf, 32)
	assert.Equal(t, byte(queryExtensionOpcode), buf[0])
	assert.Equal(t, uint16(8), Get16(buf[2:]))
	assert.Equal(t, uint16(23), Get16(buf[4:]))
	assert.Equal(t, "Generic Event Extension\x00", string(buf[8:]))
}
