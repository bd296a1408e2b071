package websocket

import (
	"net/http"

	"golang.org/x/oauth2"
)

// DefaultTokenHeaderは、トークンを設定する既定のヘッダー名です。
const DefaultTokenHeader = "Authorization"

// Tokenは、ハンドシェイク時に送信する認証情報です。
type Token struct {
	// Tokenは、ヘッダーへ設定する値です。 `Bearer xxx` のようにスキームを含めます。
	Token string

	// Headerは、ヘッダー名です。空の場合は DefaultTokenHeader を使用します。
	Header string
}

func (t *Token) setTo(h http.Header) {
	name := t.Header
	if name == "" {
		name = DefaultTokenHeader
	}
	h.Set(name, t.Token)
}

// TokenSourceは、認証トークンを取得するインターフェースです。
//
// Dialerはハンドシェイクの度に呼び出します。再接続時にも呼び出されるため、
// 有効期限のあるトークンは実装側で更新します。nilを返却した場合はヘッダーを設定しません。
type TokenSource interface {
	Token() (*Token, error)
}

// TokenSourceFuncは、関数をTokenSourceとして扱うためのアダプターです。
type TokenSourceFunc func() (*Token, error)

func (f TokenSourceFunc) Token() (*Token, error) {
	return f()
}

// StaticTokenSourceは、常に同じトークンを返却するTokenSourceです。
type StaticTokenSource struct {
	StaticToken *Token
}

// NewStaticTokenSourceは、Authorizationヘッダーへtokenを設定するStaticTokenSourceを返却します。
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{StaticToken: &Token{Token: token, Header: DefaultTokenHeader}}
}

func (ts *StaticTokenSource) Token() (*Token, error) {
	return ts.StaticToken, nil
}

// OAuth2TokenSourceは、oauth2.TokenSourceで取得したアクセストークンを送信するTokenSourceです。
type OAuth2TokenSource struct {
	Source oauth2.TokenSource
}

// NewOAuth2TokenSourceは、有効期限が切れるまでアクセストークンを再利用するOAuth2TokenSourceを返却します。
func NewOAuth2TokenSource(src oauth2.TokenSource) *OAuth2TokenSource {
	return &OAuth2TokenSource{Source: oauth2.ReuseTokenSource(nil, src)}
}

func (ts *OAuth2TokenSource) Token() (*Token, error) {
	tk, err := ts.Source.Token()
	if err != nil {
		return nil, err
	}
	return &Token{Token: tk.Type() + " " + tk.AccessToken, Header: DefaultTokenHeader}, nil
}
