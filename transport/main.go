/*
Package transport は、 wsconn が利用する全二重ソケットを抽象化するパッケージです。

Transport は1回の接続に対応し、切断後に再利用されることはありません。
再接続する場合は Dialer から新しい Transport を取得します。
*/
package transport

import (
	"io"
	"time"

	"github.com/aptpod/wsconn-go/errors"
)

// Now は transport内で利用する現在時刻関数です。
var Now = time.Now

/*
Transport は以下のエラーを返します。
*/
var (
	// ErrClosed は、トランスポートが自身のCloseによって閉じられている場合に返されます。
	ErrClosed = errors.ErrTransportClosed

	EOF = io.EOF
)
