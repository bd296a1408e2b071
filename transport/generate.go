package transport

//go:generate mockgen -destination=transportmock/mock.go -package=transportmock github.com/aptpod/wsconn-go/transport Transport,Dialer
