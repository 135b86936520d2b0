package version

import (
	"regexp"
	"runtime"
	"strings"
	"testing"
)

// semverRegex validates semantic versioning format
var semverRegex = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

func TestVersionConstants(t *testing.T) {
	tests := []struct {
		name    string
		version string
	}{
		{"App", App},
		{"AudioCore", AudioCore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !semverRegex.MatchString(tt.version) {
				t.Errorf("%s version %q does not match semver format (x.y.z)", tt.name, tt.version)
			}
		})
	}
}

func TestGet(t *testing.T) {
	info := Get()

	if info.Version != App {
		t.Errorf("Version = %v, want %v", info.Version, App)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %v", info.GoVersion)
	}
	if !strings.Contains(info.String(), App) {
		t.Errorf("String() = %q should contain version", info.String())
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "chatterbox-ui/"+App {
		t.Errorf("UserAgent() = %v", got)
	}
}
