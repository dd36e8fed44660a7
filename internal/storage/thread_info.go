// Package storage persists the little client state that survives restarts.
//
// Only the thread identifier is durable; the full session is rebuilt from the
// server's sync envelope on reconnect.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ThreadInfo is the durable, machine-local record of the active thread.
type ThreadInfo struct {
	// ThreadID is the server-generated conversation thread id.
	ThreadID string `json:"threadId"`
	// UpdatedAtMs is the wall-clock timestamp of the most recent write.
	UpdatedAtMs int64 `json:"updatedAtMs,omitempty"`
}

// LoadThreadInfo reads the persisted thread record from quillHome.
//
// ok is false when no record exists.
func LoadThreadInfo(quillHome string) (info ThreadInfo, ok bool, err error) {
	path, err := threadInfoPath(quillHome)
	if err != nil {
		return ThreadInfo{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ThreadInfo{}, false, nil
		}
		return ThreadInfo{}, false, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return ThreadInfo{}, false, err
	}
	return info, true, nil
}

// SaveThreadInfo writes the thread record to disk.
func SaveThreadInfo(quillHome string, info ThreadInfo) error {
	if strings.TrimSpace(info.ThreadID) == "" {
		return fmt.Errorf("missing thread id")
	}
	path, err := threadInfoPath(quillHome)
	if err != nil {
		return err
	}
	info.UpdatedAtMs = time.Now().UnixMilli()
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ClearThreadInfo removes the persisted record, if any.
func ClearThreadInfo(quillHome string) error {
	path, err := threadInfoPath(quillHome)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func threadInfoPath(quillHome string) (string, error) {
	if strings.TrimSpace(quillHome) == "" {
		return "", fmt.Errorf("missing quill home")
	}
	if err := os.MkdirAll(quillHome, 0700); err != nil {
		return "", err
	}
	return filepath.Join(quillHome, "thread.json"), nil
}
