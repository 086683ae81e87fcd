package meiliguard

// Version is the current version of the meiliguard library
const Version = "0.1.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// Protocol names the instance wake protocol
	Protocol string
	// InstancePort is the default instance port
	InstancePort int
	// StatusFormat names the supervisor status record layout
	StatusFormat string
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:      Version,
		Protocol:     "wake/1",
		InstancePort: DefaultInstancePort,
		StatusFormat: "tai64n-20",
	}
}
