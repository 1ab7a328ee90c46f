// Package appinfo identifies the teemux build.
package appinfo

const Name = "teemux"

// Version is set at build time with
// -ldflags "-X teemux/internal/appinfo.Version=0.2.0".
var Version = "0.1.0"

func version() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// Display is the version banner printed by "teemux version".
func Display() string {
	return Name + " v" + version()
}

// UserAgent identifies teemux processes talking to the shared server. It
// never contains "Mozilla", so probes are served as plain viewers.
func UserAgent() string {
	return Name + "/" + version()
}
