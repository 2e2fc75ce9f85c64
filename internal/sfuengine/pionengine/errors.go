package pionengine

import "errors"

var (
	errNoSendTransport = errors.New("connection has no send transport in this channel")
	errNoRecvTransport = errors.New("connection has no recv transport in this channel")
)
