package nhooyr

import (
	"context"
	"io"
	"net/http"

	nwebsocket "nhooyr.io/websocket"

	"github.com/aptpod/wsconn-go/transport/websocket"
)

// maxErrorBodyは、ハンドシェイクが拒否された場合にエラーへ含めるレスポンスボディの最大長です。
const maxErrorBody = 512

// Dialは、nhooyr.io/websocketでWebSocketのハンドシェイクを行います。
func Dial(ctx context.Context, c websocket.DialConfig) (websocket.Conn, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if c.TLSConfig != nil {
		tr.TLSClientConfig = c.TLSConfig
	}
	if c.DialContext != nil {
		tr.DialContext = c.DialContext
	}
	if c.DialTLSContext != nil {
		tr.DialTLSContext = c.DialTLSContext
	}
	if c.Proxy != nil {
		tr.Proxy = c.Proxy
	}

	compression := nwebsocket.CompressionDisabled
	if c.Compression {
		compression = nwebsocket.CompressionNoContextTakeover
	}
	opts := nwebsocket.DialOptions{
		HTTPClient:      &http.Client{Transport: tr},
		HTTPHeader:      c.Header,
		Subprotocols:    c.Subprotocols,
		CompressionMode: compression,
	}

	if c.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.DialTimeout)
		defer cancel()
	}

	ws, resp, err := nwebsocket.Dial(ctx, c.URL, &opts)
	if err != nil {
		if resp == nil || resp.StatusCode == http.StatusSwitchingProtocols {
			return nil, err
		}
		var body string
		if resp.Body != nil {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			body = string(b)
		}
		return nil, &websocket.HandshakeError{StatusCode: resp.StatusCode, Body: body, Err: err}
	}
	if c.ReadLimit > 0 {
		ws.SetReadLimit(c.ReadLimit)
	}
	return New(ws), nil
}
