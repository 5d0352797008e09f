package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
	apperrors "github.com/xiaojiou176/CodexMonitor-sub005/pkg/errors"
)

// Workspace 一个被监控的项目工作区, 对应一个 app-server 连接。
type Workspace struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Root string `yaml:"root" json:"root"`
	// URL app-server 的 websocket 地址 (ws://127.0.0.1:port)。
	URL string `yaml:"url" json:"url"`
	// Spawn 为 true 时本进程负责启动 `codex app-server`, URL 可留空。
	Spawn bool `yaml:"spawn" json:"spawn"`
}

type workspacesFile struct {
	Workspaces []Workspace `yaml:"workspaces"`
}

// LoadWorkspaces 读取 YAML 工作区列表。
//
// 文件不存在返回空列表; id 缺省时取 root 比较键; 根路径重复 (按
// normalize.NormalizeRootPath 比较) 或 id 重复返回 ErrInvalidInput。
func LoadWorkspaces(path string) ([]Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.WithCode(err, "config.LoadWorkspaces", apperrors.CodeConfig, "read "+path)
	}
	return ParseWorkspaces(data)
}

// ParseWorkspaces 解析 YAML 内容。
func ParseWorkspaces(data []byte) ([]Workspace, error) {
	var file workspacesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.WithCode(err, "config.ParseWorkspaces", apperrors.CodeConfig, "decode yaml")
	}

	seenRoots := make(map[string]string, len(file.Workspaces))
	seenIDs := make(map[string]bool, len(file.Workspaces))
	out := make([]Workspace, 0, len(file.Workspaces))
	for _, ws := range file.Workspaces {
		ws.ID = strings.TrimSpace(ws.ID)
		ws.URL = strings.TrimSpace(ws.URL)
		key := normalize.NormalizeRootPath(ws.Root)
		if ws.ID == "" {
			ws.ID = key
		}
		if ws.ID == "" {
			return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "config.ParseWorkspaces", "workspace without id or root")
		}
		if ws.URL == "" && !ws.Spawn {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "config.ParseWorkspaces", "workspace %s: url or spawn required", ws.ID)
		}
		if key != "" {
			if other, dup := seenRoots[key]; dup {
				return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "config.ParseWorkspaces", "workspace %s: root %q already used by %s", ws.ID, ws.Root, other)
			}
			seenRoots[key] = ws.ID
		}
		if seenIDs[ws.ID] {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "config.ParseWorkspaces", "duplicate workspace id %s", ws.ID)
		}
		seenIDs[ws.ID] = true
		if ws.Name == "" {
			ws.Name = ws.ID
		}
		out = append(out, ws)
	}
	return out, nil
}
