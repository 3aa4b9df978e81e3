// Package logx is a minimal debug-gated logging helper: plain stdlib log,
// enabled by FIXLS_DEBUG or an explicit log level string.
package logx

import (
	"log"
	"os"
	"sync/atomic"
)

var enabled atomic.Bool

func init() {
	if v := os.Getenv("FIXLS_DEBUG"); v != "" && v != "0" && v != "false" {
		enabled.Store(true)
	}
}

// SetLevel enables or disables debug logging based on a .fixlsrc.toml-style
// log_level string ("debug" enables, anything else leaves FIXLS_DEBUG's
// setting alone).
func SetLevel(level string) {
	if level == "debug" {
		enabled.Store(true)
	}
}

// Debugf logs at debug level when enabled, a no-op otherwise.
func Debugf(format string, args ...any) {
	if enabled.Load() {
		log.Printf("debug: "+format, args...)
	}
}
