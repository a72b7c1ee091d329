// Package containerpath builds absolute paths inside the HiveMQ container.
package containerpath

import "strings"

const (
	// Home is the HiveMQ installation directory inside the official images.
	Home = "/opt/hivemq"

	// Extensions is the directory HiveMQ scans for extension folders.
	Extensions = Home + "/extensions"

	// License is the directory HiveMQ reads license files from.
	License = Home + "/license"

	// Config is the broker configuration file.
	Config = Home + "/conf/config.xml"

	// DisabledMarker is the file name that disables an extension when present in its folder.
	DisabledMarker = "DISABLED"
)

// Prepare normalizes a relative directory so it can be concatenated between two path segments.
// The empty string and "/" become "/"; everything else gets exactly one leading and one trailing
// slash.
func Prepare(dir string) string {
	if dir == "" || dir == "/" {
		return "/"
	}
	if !strings.HasPrefix(dir, "/") {
		dir = "/" + dir
	}
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return dir
}

// ExtensionHome returns the folder of the extension with the given id, with a trailing slash.
func ExtensionHome(extensionID string) string {
	return Extensions + Prepare(extensionID)
}

// DisabledMarkerFor returns the path of the DISABLED marker file for an extension.
func DisabledMarkerFor(extensionID string) string {
	return ExtensionHome(extensionID) + DisabledMarker
}

// InHome returns the container path for a file called name placed into dir below the HiveMQ
// home folder. name is a bare file name, not a host path.
func InHome(dir, name string) string {
	return Home + Prepare(dir) + name
}

// InExtensionHome returns the container path for a file called name placed into dir below an
// extension's folder.
func InExtensionHome(extensionID, dir, name string) string {
	return strings.TrimSuffix(ExtensionHome(extensionID), "/") + Prepare(dir) + name
}
