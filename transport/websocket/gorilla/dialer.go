package gorilla

import (
	"context"
	"io"
	"net/http"

	gwebsocket "github.com/gorilla/websocket"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/transport/websocket"
)

// maxErrorBodyは、ハンドシェイクが拒否された場合にエラーへ含めるレスポンスボディの最大長です。
const maxErrorBody = 512

// Dialは、gorilla/websocketでWebSocketのハンドシェイクを行います。
func Dial(ctx context.Context, c websocket.DialConfig) (websocket.Conn, error) {
	proxy := c.Proxy
	if proxy == nil {
		proxy = http.ProxyFromEnvironment
	}
	d := gwebsocket.Dialer{
		Proxy:             proxy,
		TLSClientConfig:   c.TLSConfig,
		NetDialContext:    c.DialContext,
		NetDialTLSContext: c.DialTLSContext,
		HandshakeTimeout:  c.DialTimeout,
		Subprotocols:      c.Subprotocols,
		EnableCompression: c.Compression,
	}
	ws, resp, err := d.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		if resp == nil {
			return nil, err
		}
		defer resp.Body.Close()
		return nil, &websocket.HandshakeError{StatusCode: resp.StatusCode, Body: readBody(resp.Body), Err: err}
	}
	if c.ReadLimit > 0 {
		ws.SetReadLimit(c.ReadLimit)
	}
	return New(ws), nil
}

func readBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return string(b)
}
