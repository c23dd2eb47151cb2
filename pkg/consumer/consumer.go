package consumer

import "io"

// Consumer drains a response body into a destination, starting at
// startByte, and reports how many bytes it wrote in this call.
type Consumer interface {
	Consume(reader io.Reader, destPath string, startByte int64) (int64, error)
}
