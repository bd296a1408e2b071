package nic_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptpod/wsconn-go/errors"
	. "github.com/aptpod/wsconn-go/transport/nic"
)

func loopbackName(t *testing.T) string {
	t.Helper()
	ifaces, err := net.Interfaces()
	require.NoError(t, err)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 && iface.Flags&net.FlagUp != 0 {
			return iface.Name
		}
	}
	t.Skip("no loopback interface")
	return ""
}

func TestNew_Invalid(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = New("wsconn-no-such-if0")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestLocalAddr_LoopbackOnly(t *testing.T) {
	name := loopbackName(t)
	_, err := LocalAddr(name)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable address")
}

func TestDialer_DialContext(t *testing.T) {
	name := loopbackName(t)
	d, err := New(name)
	require.NoError(t, err)
	assert.Equal(t, []string{name}, d.Names())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// ループバックのみのインターフェースは送信元に使用できない
	_, err = d.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), name)
}
