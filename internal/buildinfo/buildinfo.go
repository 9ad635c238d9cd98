package buildinfo

import "runtime"

// Set with -ldflags "-X .../internal/buildinfo.Version=..." at release time.
var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// UserAgent is sent on every outbound webhook request.
func UserAgent() string {
	return "AIEvalPlatform-Webhooks/" + Version
}

func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"builtAt":   BuiltAt,
		"goVersion": runtime.Version(),
		"userAgent": UserAgent(),
	}
}
