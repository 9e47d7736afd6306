// Package buildinfo is stamped at link time:
//
//	go build -ldflags "-X routeworker/internal/buildinfo.Version=v1.2.0 -X routeworker/internal/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}
