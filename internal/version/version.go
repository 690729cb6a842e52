package version

var (
	// Version is the current application version.
	// The build system overrides it via ldflags; otherwise this literal applies.
	Version = "v0.3.1"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
