package utils

import "testing"

func TestCallSlotScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if callSlotAcquireScript == nil || callSlotReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestCallSlotKeyIsBusinessScoped(t *testing.T) {
	if got := CallSlotKey("biz-1"); got != "voice:slots:biz-1" {
		t.Fatalf("unexpected key %q", got)
	}
}
