package main

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// 通过 -ldflags "-X main.buildVersion=..." 注入。
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildTime    = ""
)

// BuildInfo 前端 "关于" 面板与 app-server initialize 使用。
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	Runtime   string `json:"runtime"`
}

type vcsInfo struct {
	revision string
	time     string
	modified bool
}

func readVCSInfo() vcsInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return vcsInfo{}
	}
	var v vcsInfo
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.revision = strings.TrimSpace(setting.Value)
		case "vcs.time":
			v.time = strings.TrimSpace(setting.Value)
		case "vcs.modified":
			v.modified = strings.TrimSpace(setting.Value) == "true"
		}
	}
	return v
}

func shortCommit(revision string) string {
	revision = strings.TrimSpace(revision)
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}

func currentBuildInfo() BuildInfo {
	return resolveBuildInfo(buildVersion, buildCommit, buildTime, readVCSInfo())
}

// resolveBuildInfo ldflags 未注入的字段回退到 VCS 信息。
func resolveBuildInfo(version, commit, builtAt string, vcs vcsInfo) BuildInfo {
	dirty := ""
	if vcs.modified {
		dirty = "-dirty"
	}

	version = strings.TrimSpace(version)
	if version == "" || version == "dev" {
		version = "dev"
		if vcs.revision != "" {
			version = "dev+" + shortCommit(vcs.revision) + dirty
		}
	}

	commit = strings.TrimSpace(commit)
	if commit == "" || commit == "unknown" {
		commit = "unknown"
		if vcs.revision != "" {
			commit = shortCommit(vcs.revision) + dirty
		}
	}

	builtAt = strings.TrimSpace(builtAt)
	if builtAt == "" || builtAt == "unknown" {
		builtAt = vcs.time
	}
	if builtAt == "" {
		builtAt = "unknown"
	} else if t, err := time.Parse(time.RFC3339, builtAt); err == nil {
		builtAt = t.UTC().Format("2006-01-02 15:04:05 MST")
	}

	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: builtAt,
		Runtime:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}
