package config

import (
	"os"
	"path/filepath"
)

// DefaultSettingsPath returns ~/.config/tinnicap/settings.json (or a cwd fallback).
func DefaultSettingsPath() string {
	return inConfigDir("settings.json")
}

// DefaultHistoryPath returns ~/.config/tinnicap/history.db (or a cwd fallback).
func DefaultHistoryPath() string {
	return inConfigDir("history.db")
}

func inConfigDir(name string) string {
	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".config", "tinnicap", name)
	}
	cwd, _ := os.Getwd()
	return filepath.Join(cwd, "tinnicap-"+name)
}
