// Package rlog is the process-wide line logger. It is a direct
// generalization of the teacher's log.go: a mutex-guarded timestamped
// writer with level helpers gated by environment variables, plus a
// Reopen hook so the process-supervision interface (SIGHUP) can rotate
// log files without restarting the scheduler.
package rlog

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

var (
	mutex  sync.Mutex
	output io.Writer = os.Stdout
	path   string
)

// UseFile points the logger at a file, reopening it if one was already
// open. Passing an empty path reverts to stdout.
func UseFile(p string) error {
	mutex.Lock()
	defer mutex.Unlock()

	if closer, ok := output.(io.Closer); ok && output != os.Stdout {
		closer.Close()
	}

	if p == "" {
		output = os.Stdout
		path = ""
		return nil
	}

	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	output = f
	path = p
	return nil
}

// Reopen re-opens the current log file in place, the action taken on
// SIGHUP per the process supervision interface.
func Reopen() error {
	mutex.Lock()
	p := path
	mutex.Unlock()
	if p == "" {
		return nil
	}
	return UseFile(p)
}

func line(s string) {
	tm := time.Now()
	mutex.Lock()
	defer mutex.Unlock()
	fmt.Fprintf(output, "[%s] %s\n", tm.Format("2006-01-02 15:04:05"), s)
}

// Warning logs a warning-level line. Always emitted.
func Warning(s string) {
	line("[WARNING] " + s)
}

// Info logs an info-level line. Always emitted.
func Info(s string) {
	line("[INFO] " + s)
}

// Error logs an error, unwrapping its message the same way the teacher
// logged bare errors.
func Error(err error) {
	if err == nil {
		return
	}
	line("[ERROR] " + err.Error())
}

var requestsEnabled = os.Getenv("LOG_REQUESTS") != "NO"

// Request logs a per-connection request-level event, tagged with the
// connection id and remote address, unless LOG_REQUESTS=NO.
func Request(connID uint64, addr string, s string) {
	if requestsEnabled {
		line("[REQUEST] #" + strconv.FormatUint(connID, 10) + " (" + addr + ") " + s)
	}
}

var debugEnabled = os.Getenv("LOG_DEBUG") == "YES"

// Debug logs a debug-level line, only when LOG_DEBUG=YES.
func Debug(s string) {
	if debugEnabled {
		line("[DEBUG] " + s)
	}
}

// DebugConn is the per-connection variant of Debug.
func DebugConn(connID uint64, addr string, s string) {
	if debugEnabled {
		line("[DEBUG] #" + strconv.FormatUint(connID, 10) + " (" + addr + ") " + s)
	}
}
