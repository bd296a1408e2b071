/*
Package websocket は、 WebSocket を使用したトランスポートを提供するパッケージです。

WebSocketライブラリの実装は Conn として抽象化されています。
gorilla または nhooyr パッケージをインポートすると、それぞれの DialFunc が登録されます。

	import _ "github.com/aptpod/wsconn-go/transport/websocket/gorilla"
*/
package websocket

/*
Name は、本トランスポートの名称です。
*/
const Name = "websocket"

// DefaultReadLimitは、1フレームあたりの既定の最大読み込みサイズです。
const DefaultReadLimit = 16 << 20
