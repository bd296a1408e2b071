package transport

import (
	"context"
	"sync"
)

// PipeDialerは、Pipeを使ってメモリ上でTransportを確立するDialerです。
//
// Dialごとに新しいPipeを作成し、サーバー側のTransportをAcceptで受け取れるようにします。
// 主にテストで使用します。
type PipeDialer struct {
	mu       sync.Mutex
	dialErr  error
	dials    int
	configs  []DialConfig
	acceptCh chan Transport
	hook     func(ctx context.Context, attempt int) error
}

// NewPipeDialerは、PipeDialerを返却します。
func NewPipeDialer() *PipeDialer {
	return &PipeDialer{
		acceptCh: make(chan Transport, pipeBufferSize),
	}
}

// Dialは、Pipeを作成してクライアント側のTransportを返却します。
func (d *PipeDialer) Dial(ctx context.Context, c DialConfig) (Transport, error) {
	d.mu.Lock()
	d.dials++
	attempt := d.dials
	d.configs = append(d.configs, c)
	dialErr := d.dialErr
	hook := d.hook
	d.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, attempt); err != nil {
			return nil, err
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}

	cli, srv := Pipe()
	select {
	case d.acceptCh <- srv:
	case <-ctx.Done():
		cli.Close()
		srv.Close()
		return nil, ctx.Err()
	}
	return cli, nil
}

// Acceptは、Dialで確立されたサーバー側のTransportを返却します。
func (d *PipeDialer) Accept(ctx context.Context) (Transport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case tr := <-d.acceptCh:
		return tr, nil
	}
}

// SetDialErrorは、以降のDialが返却するエラーを設定します。nilを設定すると成功に戻ります。
func (d *PipeDialer) SetDialError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

// SetHookは、Dialの度に呼び出される関数を設定します。
//
// attemptは1から始まる通算のDial回数です。エラーを返却した場合、Dialはそのエラーで失敗します。
func (d *PipeDialer) SetHook(f func(ctx context.Context, attempt int) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hook = f
}

// Dialsは、Dialが呼び出された回数を返却します。
func (d *PipeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Configsは、Dialへ渡された設定を呼び出し順に返却します。
func (d *PipeDialer) Configs() []DialConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialConfig(nil), d.configs...)
}
