// Package nlog - solidframe logger: buffering, timestamping, writing, and flushing
/*
 * Copyright (c) 2023-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxLineSize = 2 * 1024

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevText = [...]string{"INFO", "WARNING", "ERROR"}

type (
	fixed struct {
		buf  []byte
		woff int
	}
	nlog struct {
		file    *os.File
		written int64
		sev     severity
		mw      sync.Mutex
	}
)

var (
	toStderr     = true
	alsoToStderr bool
	title        string
	logDir       string
	host         = "unknown"
	pid          int
	nlogs        [sevErr + 1]*nlog
	pool         sync.Pool
	mu           sync.Mutex
)

func init() {
	pid = os.Getpid()
	if h, err := os.Hostname(); err == nil {
		if i := strings.IndexByte(h, '.'); i > 0 {
			h = h[:i]
		}
		host = h
	}
	for sev := sevInfo; sev <= sevErr; sev++ {
		nlogs[sev] = &nlog{sev: sev}
	}
}

// main function
func log(sev severity, depth int, format string, args ...any) {
	fb := alloc()
	sprintf(sev, depth, format, fb, args...)
	switch {
	case toStderr:
		fb.flush(os.Stderr)
	default:
		if alsoToStderr || sev >= sevErr {
			fb.flush(os.Stderr)
		}
		if sev >= sevWarn {
			nlogs[sevErr].write(fb)
		}
		nlogs[sevInfo].write(fb)
	}
	free(fb)
}

//
// nlog
//

func (nlog *nlog) write(fb *fixed) {
	nlog.mw.Lock()
	if nlog.file != nil {
		n, err := nlog.file.Write(fb.buf[:fb.woff])
		if err != nil {
			os.Stderr.Write(fb.buf[:fb.woff])
		}
		nlog.written += int64(n)
		if nlog.written >= MaxSize {
			nlog.rotate(time.Now())
		}
	}
	nlog.mw.Unlock()
}

func (nlog *nlog) rotate(now time.Time) {
	if nlog.file != nil {
		nlog.file.Close()
	}
	name, link := logfname(sevText[nlog.sev], now)
	f, err := os.Create(filepath.Join(logDir, name))
	if err != nil {
		nlog.file = nil
		return
	}
	nlog.file = f
	nlog.written = 0
	symlink := filepath.Join(logDir, link)
	os.Remove(symlink)
	os.Symlink(name, symlink)

	s := fmt.Sprintf("host %s, %s for %s/%s\n", host, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	nlog.file.WriteString("Started up at " + now.Format("2006/01/02 15:04:05") + ", " + s)
	if title != "" {
		nlog.file.WriteString(title)
	}
}

func setLogDir(dir string) (err error) {
	mu.Lock()
	defer mu.Unlock()
	if dir == "" {
		toStderr = true
		return
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	logDir, toStderr = dir, false
	now := time.Now()
	for sev := sevInfo; sev <= sevErr; sev++ {
		nlogs[sev].mw.Lock()
		nlogs[sev].rotate(now)
		nlogs[sev].mw.Unlock()
	}
	return
}

func flushAll(sync bool) {
	for sev := sevInfo; sev <= sevErr; sev++ {
		nlog := nlogs[sev]
		nlog.mw.Lock()
		if nlog.file != nil && sync {
			nlog.file.Sync()
		}
		nlog.mw.Unlock()
	}
}

//
// fixed
//

func (fb *fixed) Write(p []byte) (int, error) {
	n := copy(fb.buf[fb.woff:], p)
	fb.woff += n
	return len(p), nil // silently truncate at maxLineSize
}

func (fb *fixed) writeByte(b byte) {
	if fb.woff < len(fb.buf) {
		fb.buf[fb.woff] = b
		fb.woff++
	}
}

func (fb *fixed) writeString(s string) {
	n := copy(fb.buf[fb.woff:], s)
	fb.woff += n
}

func (fb *fixed) eol() {
	if fb.woff == 0 || fb.buf[fb.woff-1] != '\n' {
		fb.writeByte('\n')
	}
}

func (fb *fixed) reset() { fb.woff = 0 }

func (fb *fixed) flush(w io.Writer) { w.Write(fb.buf[:fb.woff]) }

//
// utils
//

func sname() string {
	s := filepath.Base(os.Args[0])
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	return s
}

func logfname(tag string, t time.Time) (name, link string) {
	s := sname()
	name = fmt.Sprintf("%s.%s.%s.%02d%02d-%02d%02d%02d.%d",
		s, host, tag, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), pid)
	return name, s + "." + tag
}

func formatHdr(s severity, depth int, fb *fixed) {
	const char = "IWE"
	_, fn, ln, ok := runtime.Caller(3 + depth)
	if !ok {
		return
	}
	if idx := strings.LastIndexByte(fn, filepath.Separator); idx > 0 {
		fn = fn[idx+1:]
	}
	if l := len(fn); l > 3 {
		fn = fn[:l-3]
	}
	fb.writeByte(char[s])
	fb.writeByte(' ')
	fb.writeString(time.Now().Format("15:04:05.000000"))
	fb.writeByte(' ')
	fb.writeString(fn)
	fb.writeByte(':')
	fb.writeString(strconv.Itoa(ln))
	fb.writeByte(' ')
}

func sprintf(sev severity, depth int, format string, fb *fixed, args ...any) {
	formatHdr(sev, depth+1, fb)
	if format == "" {
		fmt.Fprintln(fb, args...)
	} else {
		fmt.Fprintf(fb, format, args...)
		fb.eol()
	}
}

func alloc() (fb *fixed) {
	if v := pool.Get(); v != nil {
		fb = v.(*fixed)
		fb.reset()
	} else {
		fb = &fixed{buf: make([]byte, maxLineSize)}
	}
	return
}

func free(fb *fixed) { pool.Put(fb) }
