package device

import "errors"

// Frame processing errors. Callers drop the frame and log; none of them
// mutate the session.
var (
	ErrNotActivated     = errors.New("device not activated")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrInvalidMType     = errors.New("unexpected message type")
	ErrMICMismatch      = errors.New("MIC mismatch")
	ErrDevAddrMismatch  = errors.New("DevAddr mismatch")
	ErrUnsupportedFrame = errors.New("unsupported frame")
)
