package telemetry

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
)

// AccessLog accumulates information about a single proxied exchange and
// renders it as one log line once the exchange has ended.
type AccessLog struct {
	Logger            *log.Logger
	Request           *http.Request
	DestinationPrefix string
	StatusCode        int
	IsUpgrade         bool
	BytesIn           int64
	BytesOut          int64

	startedAt time.Time
	buffer    bytes.Buffer
}

// NewAccessLog creates an access log entry for the given inbound request and
// starts its timer.
func NewAccessLog(logger *log.Logger, request *http.Request) *AccessLog {
	return &AccessLog{
		Logger:    logger,
		Request:   request,
		startedAt: time.Now(),
	}
}

// Log writes the accumulated entry to the logger.
//
// The log format consists of the following space separated fields:
//
// - event type ("HTTP" or "TUNNEL")
// - remote address
// - frontend address
// - destination prefix
// - request information (method, URI and protocol)
// - http status code
// - elapsed time
// - bytes inbound
// - bytes outbound
// - message (optional)
//
// All fields are always present, except for the message which is optional.
// If a field value is unknown or not applicable, a hyphen is used in place.
// If a field value contains spaces or other special characters it is
// rendered as a double-quoted Go string. This allows log output to be parsed
// programatically.
func (entry *AccessLog) Log(err error) {
	if entry.Logger == nil {
		return
	}

	if entry.IsUpgrade {
		entry.write("TUNNEL")
	} else {
		entry.write("HTTP")
	}

	entry.write(entry.Request.RemoteAddr)
	entry.write(entry.Request.Host)
	entry.write(entry.DestinationPrefix)

	entry.write(
		"%s %s %s",
		entry.Request.Method,
		entry.Request.URL.RequestURI(),
		entry.Request.Proto,
	)

	if entry.StatusCode == 0 {
		entry.write("")
	} else {
		entry.write("%d", entry.StatusCode)
	}

	elapsed := float64(time.Since(entry.startedAt)) / float64(time.Millisecond)
	entry.write("t/%sms", humanize.FormatFloat("#,###.##", elapsed))
	entry.write("i/%s", humanize.FormatFloat("#,###.", float64(entry.BytesIn)))
	entry.write("o/%s", humanize.FormatFloat("#,###.", float64(entry.BytesOut)))

	if err != nil {
		entry.write(err.Error())
	}

	entry.Logger.Println(entry.buffer.String())
	entry.buffer.Reset()
}

// write is a helper function that writes a string to the buffer, quoting the
// string if it contains whitespace or special characters.
func (entry *AccessLog) write(str string, v ...interface{}) {
	if entry.buffer.Len() != 0 {
		entry.buffer.WriteRune(' ')
	}

	if len(v) != 0 {
		str = fmt.Sprintf(str, v...)
	}

	if str == "" {
		entry.buffer.WriteRune('-')
		return
	}

	if strings.ContainsAny(str, " \a\b\f\n\r\t\v\"") {
		entry.buffer.WriteString(strconv.Quote(str))
	} else {
		entry.buffer.WriteString(str)
	}
}
