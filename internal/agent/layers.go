package agent

import (
	"context"

	"github.com/nexuscore/nexuscore/internal/workspace"
)

// PromptLayerContent is the raw, already-loaded text for every
// workspace-authored context layer (spec.md §4.4: identity, soul, user,
// boot, bootstrap, and the two memory slices). Rendering it into prose
// is the context builder's job; loading it from disk is this package's,
// mirroring the teacher's internal/workspace/loader.go content-loading
// idiom (see DESIGN.md's internal/workspace entry for why that file
// itself wasn't kept: its logic lives here instead, against the new
// sandboxed Manager).
type PromptLayerContent struct {
	Identity     string
	Soul         string
	User         string
	Boot         string
	Bootstrap    string
	SystemMemory string
	DailyMemory  string
}

// PromptLayerLoader reads the current on-disk content for every
// workspace-authored layer. Implementations must tolerate missing files
// by returning an empty string for that field rather than an error,
// since none of these files are required for a turn to proceed.
type PromptLayerLoader interface {
	Load(ctx context.Context) (PromptLayerContent, error)
}

// WorkspaceLayerLoader reads prompt-context layers from fixed,
// well-known paths under a workspace root.
type WorkspaceLayerLoader struct {
	ws *workspace.Manager
}

// NewWorkspaceLayerLoader builds a loader rooted at ws.
func NewWorkspaceLayerLoader(ws *workspace.Manager) *WorkspaceLayerLoader {
	return &WorkspaceLayerLoader{ws: ws}
}

// Well-known paths for workspace-authored prompt context, relative to
// the sandbox root. A first-run bootstrap is out of scope here (spec.md
// §1): nothing in this module seeds these files, and a missing file
// yields an empty layer.
const (
	IdentityFile     = "IDENTITY.md"
	SoulFile         = "SOUL.md"
	UserFile         = "USER.md"
	BootFile         = "BOOT.md"
	BootstrapFile    = "BOOTSTRAP.md"
	SystemMemoryFile = "memory/system.md"
	DailyMemoryFile  = "memory/daily.md"
)

// Load reads every layer file, treating a missing file as empty content
// rather than an error.
func (l *WorkspaceLayerLoader) Load(_ context.Context) (PromptLayerContent, error) {
	return PromptLayerContent{
		Identity:     l.readOrEmpty(IdentityFile),
		Soul:         l.readOrEmpty(SoulFile),
		User:         l.readOrEmpty(UserFile),
		Boot:         l.readOrEmpty(BootFile),
		Bootstrap:    l.readOrEmpty(BootstrapFile),
		SystemMemory: l.readOrEmpty(SystemMemoryFile),
		DailyMemory:  l.readOrEmpty(DailyMemoryFile),
	}, nil
}

func (l *WorkspaceLayerLoader) readOrEmpty(path string) string {
	content, err := l.ws.ReadTextFile(path)
	if err != nil {
		return ""
	}
	return content
}

// SetPromptLayers attaches a loader the turn loop consults for every
// turn's identity/soul/user/boot/bootstrap/memory layers. Left unset, a
// turn runs with those layers empty, matching the zero-value Inputs the
// builder already tolerates.
func (l *Loop) SetPromptLayers(loader PromptLayerLoader) {
	l.layers = loader
}
