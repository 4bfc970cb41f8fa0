// Package nlog - ttg logger, provides leveled, buffered, depth-aware logging.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type severity int32

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

func (s severity) String() string {
	switch s {
	case sevWarn:
		return "W"
	case sevErr:
		return "E"
	default:
		return "I"
	}
}

const flushEvery = 200 * time.Millisecond

type buffered struct {
	mw      sync.Mutex
	buf     bytes.Buffer
	w       *os.File
	last    atomic.Int64 // unix nano of last flush
	written atomic.Int64
}

func (b *buffered) write(p []byte) {
	b.mw.Lock()
	b.buf.Write(p)
	due := time.Since(time.Unix(0, b.last.Load())) > flushEvery
	b.mw.Unlock()
	if due || len(p) > 4096 {
		b.flush()
	}
}

func (b *buffered) flush() {
	b.mw.Lock()
	n := b.buf.Len()
	if n == 0 {
		b.mw.Unlock()
		return
	}
	p := make([]byte, n)
	copy(p, b.buf.Bytes())
	b.buf.Reset()
	b.mw.Unlock()

	b.w.Write(p)
	b.written.Add(int64(n))
	b.last.Store(time.Now().UnixNano())
}

var (
	bufs  = [2]*buffered{{w: os.Stdout}, {w: os.Stderr}} // [sevInfo/sevWarn] -> stdout, [sevErr] -> stderr
	title string
)

// SetTitle sets a short process identifier prefixed on every line (e.g. rank id).
func SetTitle(s string) { title = s }

func log(sev severity, depth int, format string, args ...any) {
	var msg string
	if format == "" {
		msg = fmt.Sprintln(args...)
	} else {
		msg = fmt.Sprintf(format, args...) + "\n"
	}
	line := formatHeader(sev, depth+2) + msg

	idx := 0
	if sev == sevErr {
		idx = 1
	}
	bufs[idx].write([]byte(line))
	if sev >= sevWarn && idx == 0 {
		bufs[1].write([]byte(line)) // warnings also go to stderr
	}
}

func formatHeader(sev severity, depth int) string {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		file, line = "???", 0
	} else if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	ts := time.Now().Format("15:04:05.000000")
	if title != "" {
		return fmt.Sprintf("%s %s %s:%d [%s] ", sev, ts, file, line, title)
	}
	return fmt.Sprintf("%s %s %s:%d ", sev, ts, file, line)
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

// Flush forces pending buffered output to its underlying file.
func Flush(_ ...bool) {
	for _, b := range bufs {
		b.flush()
	}
}
