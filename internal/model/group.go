// Package model holds the plain data structures shared across the sync
// engine: server/group configuration shapes that originate in config,
// remote file snapshots, and the persisted Worker/CompletedLog records.
//
// Everything here is a plain struct with explicit fields. There are no
// open-ended attribute maps; persistence layers serialize these directly
// to JSON or to typed columns, and callers change a field by assigning
// it directly or through a named helper such as MarkDone/MarkFailed,
// never through generic key-based patching.
package model

import (
	"fmt"
	"strings"
)

// SyncMode names one of the four synchronization strategies.
type SyncMode string

const (
	ModeCopy     SyncMode = "copy"
	ModeMirror   SyncMode = "mirror"
	ModeSync     SyncMode = "sync"
	ModeSyncIncr SyncMode = "sync-incr"
)

// Valid reports whether m is one of the known modes.
func (m SyncMode) Valid() bool {
	switch m {
	case ModeCopy, ModeMirror, ModeSync, ModeSyncIncr:
		return true
	default:
		return false
	}
}

// SyncGroup is one named synchronization unit spanning two or more
// mount members.
type SyncGroup struct {
	Name                string   `yaml:"name" json:"name"`
	Mode                SyncMode `yaml:"type" json:"type"`
	Enable              bool     `yaml:"enable" json:"enable"`
	IntervalSeconds     int      `yaml:"interval" json:"interval"`
	NeedBackup          bool     `yaml:"need_backup" json:"need_backup"`
	BackupDir           string   `yaml:"backup_dir" json:"backup_dir"`
	Blacklist           []string `yaml:"blacklist" json:"blacklist"`
	Whitelist           []string `yaml:"whitelist" json:"whitelist"`
	Members             []string `yaml:"group" json:"members"`
	BackupRetentionDays int      `yaml:"backup_retention_days" json:"backup_retention_days"`
	CheckPopulatesCache bool     `yaml:"check_populates_cache" json:"check_populates_cache"`
}

// MainMember returns members[0], the authoritative source for copy and
// mirror modes.
func (g *SyncGroup) MainMember() string {
	if len(g.Members) == 0 {
		return ""
	}
	return g.Members[0]
}

// BackupDirFor returns the backup area directory under member root,
// always ".alist-sync-backup" unless overridden.
func (g *SyncGroup) BackupDirFor(root string) string {
	dir := g.BackupDir
	if dir == "" {
		dir = ".alist-sync-backup"
	}
	return strings.TrimSuffix(root, "/") + "/" + dir
}

// Validate checks the group's structural invariants.
func (g *SyncGroup) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("sync group: name is required")
	}
	if !g.Mode.Valid() {
		return fmt.Errorf("sync group %q: unknown mode %q", g.Name, g.Mode)
	}
	if len(g.Members) < 2 {
		return fmt.Errorf("sync group %q: needs at least 2 members, got %d", g.Name, len(g.Members))
	}
	if g.BackupDir == "" {
		g.BackupDir = ".alist-sync-backup"
	}
	return nil
}
