// Package common holds process-wide helpers shared by the binaries.
package common

const PackageName = "world_registry"

// Version is overridden at build time with -ldflags "-X github.com/ruteri/world-registry/common.Version=..."
var Version = "dev"
