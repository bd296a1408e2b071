/*
Package wsconn は、自動再接続・送信キュー・ハートビートを備えたWebSocketクライアントライブラリです。

ここではライブラリの構成と、コネクションを利用するまでの一連の流れについて説明します。

# Packages

  - wsconn: コネクション本体です。状態遷移、再接続、ハートビート、送信キューの排出を1つのゴルーチンで直列に処理します。
  - pool: 名前付きのコネクションの集合を保持し、送信先の選択、ブロードキャスト、ヘルスチェックを行います。
  - queue: 未接続の間に送信されたメッセージを優先度順に保持するキューです。
  - encoding: エンベロープとWebSocketフレームの相互変換です。JSONとProtocol Buffersを提供します。
  - transport: トランスポートの抽象です。WebSocketの実装はgorilla/websocketとnhooyr.io/websocketから選択できます。
  - storage: キューを永続化するストアです。Redis、SQLite、PostgreSQL、NATS JetStream Key-Valueを提供します。
  - config: YAMLの設定ファイルからコネクションとプールを構築します。

# Connect

Dialは接続が確立されるまで待ちます。接続中に切断された場合は、再接続ポリシーに従って自動で再接続します。

	package main

	import (
		"context"
		"log"
		"time"

		"github.com/aptpod/wsconn-go/wsconn"
	)

	func main() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conn, err := wsconn.Dial(ctx, "ws://localhost:8080/ws",
			wsconn.WithConnReconnect(wsconn.ReconnectConfig{
				Enabled:           true,
				Strategy:          wsconn.ReconnectStrategyExponential,
				InitialDelay:      100 * time.Millisecond,
				MaxDelay:          10 * time.Second,
				MaxAttempts:       3,
				BackoffMultiplier: 2,
			}),
			wsconn.WithConnMessageReceivedEventHandler(wsconn.MessageReceivedEventHandlerFunc(func(ev *wsconn.MessageReceivedEvent) {
				log.Printf("received %s: %s", ev.Envelope.Type, ev.Envelope.Data)
			})),
		)
		if err != nil {
			log.Fatal(err)
		}
		defer conn.Destroy(context.Background())

		// 未接続の間に送信したメッセージはキューへ保持され、接続後に送信順で送られます。
		if _, err := conn.Send(map[string]any{"temperature": 21.5}, wsconn.WithTTL(time.Minute)); err != nil {
			log.Fatal(err)
		}
	}

# Pool

プールへ追加したコネクションは、最初に接続が確立された時点で送信先の選択対象になります。

	p, err := pool.New(pool.WithPoolStrategy(pool.StrategyRoundRobin))
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close(context.Background())

	for _, name := range []string{"tokyo", "osaka"} {
		if err := p.AddConnection(ctx, pool.MemberConfig{
			Name: name,
			URL:  "wss://" + name + ".example.com/ws",
		}); err != nil {
			log.Fatal(err)
		}
	}

	if _, err := p.Send("hello"); errors.Is(err, errors.ErrNoHealthyConnection) {
		// 選択可能なメンバーが存在しない
	}
*/
package wsconn
