package carrica

// Version and Codename identify the bridge release.
const (
	Version  = "0.1.0"
	Codename = "Tenma"
)

// FullVersion returns the version followed by the codename.
func FullVersion() string {
	return Version + " " + Codename
}
