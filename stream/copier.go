package stream

import (
	"context"
	"io"
	"time"

	"github.com/icecave/relay/telemetry"
)

// DefaultBufferSize is the size of the working buffer used by a Copier when
// none is specified.
const DefaultBufferSize = 32 * 1024

// Flusher is implemented by sinks that can push buffered bytes onward.
type Flusher interface {
	Flush()
}

// Copier pumps bytes from a source stream to a sink stream until the source
// reaches EOF, the copy is cancelled, or either stream fails.
//
// Bytes are forwarded in order and are never buffered beyond the working
// buffer of a single copy operation.
type Copier struct {
	// Telemetry receives lifecycle events. If it is nil no events are
	// emitted.
	Telemetry telemetry.Listener

	// AutoFlush causes the sink to be flushed after every write, if the sink
	// supports it. It is enabled for exchanges that require low-latency
	// delivery of partial content, such as gRPC streams.
	AutoFlush bool

	// BufferSize is the size of the working buffer. If it is zero,
	// DefaultBufferSize is used.
	BufferSize int

	// Now is the clock used to stamp activity. If it is nil, time.Now is
	// used.
	Now func() time.Time

	// Metrics, if non-nil, accumulates byte counts and timings for the copy.
	Metrics *Metrics
}

// Copy pumps bytes from source to sink until EOF on source.
//
// isRequest indicates that the source is an inbound request body; it affects
// telemetry only. The returned count is the number of bytes delivered to the
// sink regardless of outcome. The returned error is nil only when the result
// is ResultSuccess.
func (copier *Copier) Copy(
	ctx context.Context,
	isRequest bool,
	source io.Reader,
	sink io.Writer,
) (int64, Result, error) {
	size := copier.BufferSize
	if size == 0 {
		size = DefaultBufferSize
	}

	buffer := make([]byte, size)
	flusher, canFlush := sink.(Flusher)

	var written int64

	if copier.Metrics != nil {
		copier.Metrics.Start(copier.now())
	}

	if isRequest && copier.Telemetry != nil {
		copier.Telemetry.ProxyStage(telemetry.StageRequestContentTransferStart)
	}

	defer func() {
		if copier.Metrics != nil {
			copier.Metrics.Bytes = written
			copier.Metrics.MarkLastByte(copier.now())
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return written, ResultCanceled, err
		}

		read, readErr := source.Read(buffer)

		if read > 0 {
			wrote, writeErr := sink.Write(buffer[:read])

			if copier.Metrics != nil && written == 0 && wrote > 0 {
				copier.Metrics.MarkFirstByte(copier.now())
			}

			written += int64(wrote)

			if writeErr != nil {
				return written, ResultOutputError, writeErr
			}

			if wrote < read {
				return written, ResultOutputError, io.ErrShortWrite
			}

			if copier.AutoFlush && canFlush {
				flusher.Flush()
			}
		}

		if readErr == io.EOF {
			return written, ResultSuccess, nil
		}

		if readErr != nil {
			// A read that fails because the copy was cancelled is billed to
			// the cancellation, not to the source.
			if ctx.Err() != nil {
				return written, ResultCanceled, readErr
			}

			return written, ResultInputError, readErr
		}
	}
}

func (copier *Copier) now() time.Time {
	if copier.Now != nil {
		return copier.Now()
	}

	return time.Now()
}
