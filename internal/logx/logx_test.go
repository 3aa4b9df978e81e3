package logx

import "testing"

func TestSetLevelEnablesOnDebug(t *testing.T) {
	enabled.Store(false)
	SetLevel("info")
	if enabled.Load() {
		t.Error("SetLevel(\"info\") enabled debug logging")
	}
	SetLevel("debug")
	if !enabled.Load() {
		t.Error("SetLevel(\"debug\") did not enable debug logging")
	}
}
