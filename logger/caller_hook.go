package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages are skipped when resolving the reported caller so log lines
// point at the code that asked for the log or the event.
var wrapperPackages = []string{
	"sirupsen/logrus",
	"optionflow/logger.",
	"optionflow/internal/metrics.(*Recorder)",
}

// callerHook adjusts the caller reported by logrus so it points
// to the original call site outside of the logging wrappers.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	// Skip runtime.Callers, this method and the logrus hook dispatch.
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isWrapperFrame(frame.Function) {
			entry.Caller = &frame
			break
		}
		if !more {
			break
		}
	}
	return nil
}

func isWrapperFrame(fn string) bool {
	for _, prefix := range wrapperPackages {
		if strings.Contains(fn, prefix) {
			return true
		}
	}
	return false
}
