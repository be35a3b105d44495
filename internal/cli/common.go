// Package cli carries the version/build identity and exit helpers
// shared by the nomicon binaries.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
)

// Build identity. CommitSHA and BuildDate are stamped via -ldflags in
// release builds and keep these fallbacks in plain go-build ones.
var (
	Version   = "0.3.0"
	BuildDate = "unknown"
	CommitSHA = "unknown"
)

// VersionInfo is the structured form printed by -version and served
// by the daemon's /version endpoint.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the running binary's identity.
func GetVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if BuildDate != "unknown" {
		info.BuildDate = BuildDate
	}
	if CommitSHA != "unknown" {
		info.CommitSHA = CommitSHA
	}
	return info
}

// PrintVersion writes the tool identity to stdout, as indented JSON
// when jsonOutput is set.
func PrintVersion(toolName string, jsonOutput bool) {
	info := GetVersionInfo()
	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"tool":         toolName,
			"version_info": info,
		}, "", "  ")
		if err == nil {
			fmt.Println(string(data))
			return
		}
		fmt.Fprintf(os.Stderr, "Error: failed to marshal version info: %v\n", err)
	}
	fmt.Printf("%s v%s\n", toolName, info.Version)
	if info.BuildDate != "" {
		fmt.Printf("Build Date: %s\n", info.BuildDate)
	}
	if info.CommitSHA != "" {
		fmt.Printf("Commit: %s\n", info.CommitSHA)
	}
	fmt.Printf("Go Version: %s\n", info.GoVersion)
	fmt.Printf("Platform: %s\n", info.Platform)
}

// ExitWithError prints an error message and exits with code 1.
func ExitWithError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
