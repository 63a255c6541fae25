package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.Version != Version || info.GoVersion != runtime.Version() || info.OS != runtime.GOOS {
		t.Errorf("Get() = %+v", info)
	}
	fields := info.Fields()
	if len(fields) != 7 || fields[0][0] != "version" || fields[6][1] != runtime.GOARCH {
		t.Errorf("Fields() = %v", fields)
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "farmlink/"+Version+" (") {
		t.Errorf("UserAgent() = %q", ua)
	}
}
