/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Set with -ldflags "-X github.com/suparena/entityrepo.GitCommit=...".
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// VersionInfo describes the running build and the store SDK it links.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	GitCommit string `json:"gitCommit" yaml:"gitCommit"`
	BuildDate string `json:"buildDate" yaml:"buildDate"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
	AWSSDK    string `json:"awsSdk" yaml:"awsSdk"`
}

// GetVersionInfo returns the version information. Commit and date fall back
// to the VCS stamp embedded by the go tool when not set at link time.
func GetVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		AWSSDK:    aws.SDKVersion,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.GitCommit == "unknown":
			info.GitCommit = s.Value
		case s.Key == "vcs.time" && info.BuildDate == "unknown":
			info.BuildDate = s.Value
		}
	}
	return info
}

// String is a one-line summary for logs.
func (v VersionInfo) String() string {
	return fmt.Sprintf("entityrepo %s (%s, %s, aws-sdk-go-v2 %s)", v.Version, v.GitCommit, v.GoVersion, v.AWSSDK)
}
