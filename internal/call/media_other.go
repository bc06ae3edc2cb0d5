//go:build !linux || !cgo

package call

import "context"

// NewDeviceCapturer returns a capturer that always fails: camera/microphone
// drivers are only wired up on Linux. Callers see the failure as a
// MediaCaptureError resolving the session back to idle.
func NewDeviceCapturer() Capturer {
	return unsupportedCapturer{}
}

type unsupportedCapturer struct{}

func (unsupportedCapturer) Capture(context.Context, Mode) (Stream, error) {
	return nil, ErrMediaUnsupported
}
