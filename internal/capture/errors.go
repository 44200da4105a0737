package capture

import "fmt"

// FormatError reports an input that is not a capture container this
// package understands. It is fatal: no frames can be read.
type FormatError struct {
	Magic []byte
	Err   error
}

func (e *FormatError) Error() string {
	if len(e.Magic) > 0 {
		return fmt.Sprintf("sipzamine: unrecognized capture format (magic % x): %v", e.Magic, e.Err)
	}
	return fmt.Sprintf("sipzamine: unrecognized capture format: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// TruncatedCaptureError reports a capture that ends inside a record or
// carries an impossible record length. Frames read before it are valid.
type TruncatedCaptureError struct {
	FramesRead int
	Err        error
}

func (e *TruncatedCaptureError) Error() string {
	return fmt.Sprintf("sipzamine: capture truncated after %d frames: %v", e.FramesRead, e.Err)
}

func (e *TruncatedCaptureError) Unwrap() error { return e.Err }
