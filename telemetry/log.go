package telemetry

import (
	"bytes"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
)

// NewLogListener returns a listener that writes one line per event to logger.
//
// The log format consists of space separated fields. If a field value
// contains spaces or other special characters it is rendered as a
// double-quoted Go string. This allows log output to be parsed
// programatically.
func NewLogListener(logger *log.Logger) Listener {
	return &logListener{logger: logger}
}

type logListener struct {
	logger *log.Logger
	mutex  sync.Mutex
	buffer bytes.Buffer
}

func (l *logListener) ProxyStart(destinationPrefix string) {
	l.emit("PROXY/START", destinationPrefix)
}

func (l *logListener) ProxyStage(stage Stage) {
	l.emit("PROXY/STAGE", stage.String())
}

func (l *logListener) ProxyFailed(kind string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}

	l.emit("PROXY/FAILED", kind, message)
}

func (l *logListener) ProxyStop(statusCode int) {
	status := ""
	if statusCode != 0 {
		status = strconv.Itoa(statusCode)
	}

	l.emit("PROXY/STOP", status)
}

func (l *logListener) emit(fields ...string) {
	if l.logger == nil {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	for _, field := range fields {
		l.write(field)
	}

	l.logger.Println(l.buffer.String())
	l.buffer.Reset()
}

// write is a helper function that writes a string to the buffer, quoting the
// string if it contains whitespace or special characters.
func (l *logListener) write(str string, v ...interface{}) {
	if l.buffer.Len() != 0 {
		l.buffer.WriteRune(' ')
	}

	if len(v) != 0 {
		str = fmt.Sprintf(str, v...)
	}

	if str == "" {
		l.buffer.WriteRune('-')
		return
	}

	if strings.ContainsAny(str, " \a\b\f\n\r\t\v\"") {
		l.buffer.WriteString(strconv.Quote(str))
	} else {
		l.buffer.WriteString(str)
	}
}
