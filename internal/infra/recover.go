package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f in the calling goroutine and runs it again after a
// panic. A negative maxPanics means unlimited restarts; zero means the job is
// not restarted. It returns once f returns without panicking or the limit is hit.
func GoRecoverable(maxPanics int, id string, f func()) {
	entry := log.WithField("job", id)
	for RunRecovered(id, f) {
		switch {
		case maxPanics == 0:
			entry.Warn("panics limit exceeded, job is not restarted")
			return
		case maxPanics > 0:
			maxPanics--
			entry.Debugf("recovering job with max panics left: %d", maxPanics)
		default:
			entry.Debug("recovering job")
		}
	}
}

// RunRecovered runs f once and reports whether it panicked.
func RunRecovered(id string, f func()) (panicked bool) {
	defer func() {
		if err := recover(); err != nil {
			log.WithField("job", id).Errorf("job panics with message: %v, %s", err, identifyPanic())
			panicked = true
		}
	}()
	f()
	return false
}

func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}

	return fmt.Sprintf("pc:%x", pc)
}
