package msgbuffer

import "errors"

// ErrSendFailed wraps transport errors returned by SendMessages.
var ErrSendFailed = errors.New("send message failed")
