package appinfo

import (
	"strings"
	"testing"
)

func TestUserAgentIsNotABrowser(t *testing.T) {
	if ua := UserAgent(); strings.Contains(ua, "Mozilla") || !strings.HasPrefix(ua, Name+"/") {
		t.Fatalf("UserAgent() = %q", ua)
	}
}

func TestDisplayFallsBackToDev(t *testing.T) {
	saved := Version
	t.Cleanup(func() { Version = saved })
	Version = ""
	if got := Display(); got != "teemux vdev" {
		t.Fatalf("Display() = %q", got)
	}
}
