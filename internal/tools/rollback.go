package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexuscore/nexuscore/internal/workspace"
)

// rollbackEntry captures a file's state immediately before a mutating
// tool call overwrote it, so a failed turn can be undone.
type rollbackEntry struct {
	path    string
	existed bool
	content string
}

// RollbackJournal records the pre-mutation state of files touched by
// write/edit/patch tool calls, keyed by the tool call id that produced
// the mutation. A single call may touch several files (a multi-file
// patch), so each id maps to the ordered list of captures it made. The
// teacher's equivalent tools have no such capture; this journal exists
// so a failed turn can undo a specific tool call's file effects without
// reverting the whole workspace.
type RollbackJournal struct {
	ws *workspace.Manager

	mu      sync.Mutex
	entries map[string][]rollbackEntry
}

// NewRollbackJournal creates a journal bound to a workspace.
func NewRollbackJournal(ws *workspace.Manager) *RollbackJournal {
	return &RollbackJournal{ws: ws, entries: make(map[string][]rollbackEntry)}
}

// capture records path's current content under toolCallID before it is
// mutated. A missing file is recorded as non-existent.
func (j *RollbackJournal) capture(toolCallID, path string) error {
	if j == nil {
		return nil
	}
	exists, err := j.ws.Exists(path)
	if err != nil {
		return err
	}
	entry := rollbackEntry{path: path, existed: exists}
	if exists {
		content, err := j.ws.ReadTextFile(path)
		if err != nil {
			return err
		}
		entry.content = content
	}
	j.mu.Lock()
	j.entries[toolCallID] = append(j.entries[toolCallID], entry)
	j.mu.Unlock()
	return nil
}

// Rollback restores every file touched by toolCallID to its
// pre-mutation state, in reverse capture order, removing files that did
// not previously exist. It is a no-op if no entry was recorded for that
// call id.
func (j *RollbackJournal) Rollback(ctx context.Context, toolCallID string) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	entries, ok := j.entries[toolCallID]
	if ok {
		delete(j.entries, toolCallID)
	}
	j.mu.Unlock()
	if !ok {
		return nil
	}

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if !entry.existed {
			if err := j.ws.RemovePath(entry.path); err != nil {
				return fmt.Errorf("rollback: remove %s: %w", entry.path, err)
			}
			continue
		}
		if err := j.ws.WriteTextFile(entry.content, entry.path); err != nil {
			return fmt.Errorf("rollback: restore %s: %w", entry.path, err)
		}
	}
	return nil
}

// Forget drops any recorded entries for toolCallID without restoring
// them, used once a turn's changes are accepted.
func (j *RollbackJournal) Forget(toolCallID string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	delete(j.entries, toolCallID)
	j.mu.Unlock()
}
