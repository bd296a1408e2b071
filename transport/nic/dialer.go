// Package nic は、送信元のネットワークインターフェースを指定してTCP接続を開始するDialContextを提供します。
package nic

import (
	"context"
	"net"

	"github.com/aptpod/wsconn-go/errors"
)

// Dialerは、指定されたネットワークインターフェースのアドレスを送信元としてTCP接続します。
//
// 複数のインターフェースが指定された場合は先頭から順に接続を試み、最初に成功した接続を返却します。
// インターフェースのアドレスは接続の都度解決するため、DHCP等によるアドレスの変更に追従します。
type Dialer struct {
	names []string
	base  net.Dialer
}

// Newは、Dialerを生成します。
func New(names ...string) (*Dialer, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("at least one interface name is required: %w", errors.ErrInvalidConfig)
	}
	for _, name := range names {
		if _, err := net.InterfaceByName(name); err != nil {
			return nil, errors.Errorf("interface %q: %v: %w", name, err, errors.ErrInvalidConfig)
		}
	}
	return &Dialer{names: append([]string(nil), names...)}, nil
}

// Namesは、インターフェース名を返却します。
func (d *Dialer) Names() []string {
	return append([]string(nil), d.names...)
}

// DialContextは、websocket.DialerConfig.DialContext に設定できる形式で接続を開始します。
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var errs []error
	for _, name := range d.names {
		laddr, err := LocalAddr(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		dialer := d.base
		dialer.LocalAddr = laddr
		conn, err := dialer.DialContext(ctx, network, address)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, errors.Errorf("dial via %s: %w", name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// LocalAddrは、インターフェースに割り当てられたアドレスのうち送信元に使用するアドレスを返却します。
//
// ループバックとリンクローカルのアドレスは対象外です。IPv4アドレスを優先します。
func LocalAddr(name string) (*net.TCPAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, errors.Errorf("get interface %s: %w", name, err)
	}
	if iface.Flags&net.FlagUp == 0 {
		return nil, errors.Errorf("interface %s is down", name)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, errors.Errorf("get addresses of %s: %w", name, err)
	}

	var v6 net.IP
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		if ip.To4() != nil {
			return &net.TCPAddr{IP: ip}, nil
		}
		if v6 == nil {
			v6 = ip
		}
	}
	if v6 != nil {
		return &net.TCPAddr{IP: v6}, nil
	}
	return nil, errors.Errorf("no usable address found for interface %s", name)
}
