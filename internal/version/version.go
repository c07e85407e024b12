// ABOUTME: Version information for the player
// ABOUTME: Product name, publisher and release shown in the startup log
package version

import "fmt"

const (
	// Version is the player release
	Version = "0.3.0"

	// Product is the player's display name
	Product = "musicthing"

	// Manufacturer identifies the publisher
	Manufacturer = "musicthing contributors"
)

// Banner is the one-line identification logged at startup
func Banner() string {
	return fmt.Sprintf("%s %s (%s)", Product, Version, Manufacturer)
}
