package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxReadBytes caps what read_file returns so one giant artifact cannot blow
// the model's context window.
const maxReadBytes = 512 << 10

// resolveWorkspacePath anchors a tool-supplied path under the workspace root
// and rejects escapes. Relative paths resolve against the root; absolute
// paths must already be inside it.
func resolveWorkspacePath(root, p string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("no workspace bound to this session")
	}
	if p == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", p)
	}
	return abs, nil
}

type readFileArgs struct {
	Path string `json:"path" jsonschema:"minLength=1,description=File to read; resolved against the workspace root"`
}

// ReadFile reads a file inside the session workspace. Oversized files are
// truncated with a marker.
func ReadFile() Tool {
	return New("read_file", func(ctx context.Context, call *Call, args readFileArgs) (*Result, error) {
		abs, err := resolveWorkspacePath(call.WorkspaceRoot, args.Path)
		if err != nil {
			return Errorf("%v", err), nil
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			return Errorf("failed to read %s: %v", args.Path, err), nil
		}
		if len(content) > maxReadBytes {
			return Textf("%s\n[truncated %d of %d bytes]", content[:maxReadBytes], maxReadBytes, len(content)), nil
		}
		return Text(string(content)), nil
	}, WithDescription("Read the entire content of a file in the workspace."))
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"minLength=1,description=File to write; resolved against the workspace root"`
	Content string `json:"content" jsonschema:"description=Full new content of the file"`
}

// WriteFile replaces a file inside the session workspace, creating parent
// directories as needed.
func WriteFile() Tool {
	return New("write_file", func(ctx context.Context, call *Call, args writeFileArgs) (*Result, error) {
		abs, err := resolveWorkspacePath(call.WorkspaceRoot, args.Path)
		if err != nil {
			return Errorf("%v", err), nil
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return Errorf("failed to create directories for %s: %v", args.Path, err), nil
		}
		if err := os.WriteFile(abs, []byte(args.Content), 0o644); err != nil {
			return Errorf("failed to write %s: %v", args.Path, err), nil
		}
		return Textf("Wrote %d bytes to %s", len(args.Content), args.Path), nil
	}, WithDescription("Write a file in the workspace, replacing its content entirely."))
}

type listDirArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list; defaults to the workspace root"`
}

// ListDir lists a directory inside the session workspace. Directories carry
// a trailing slash.
func ListDir() Tool {
	return New("list_dir", func(ctx context.Context, call *Call, args listDirArgs) (*Result, error) {
		p := args.Path
		if p == "" {
			p = "."
		}
		abs, err := resolveWorkspacePath(call.WorkspaceRoot, p)
		if err != nil {
			return Errorf("%v", err), nil
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return Errorf("failed to list %s: %v", p, err), nil
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		return Text(strings.Join(names, "\n")), nil
	}, WithDescription("List the entries of a workspace directory."))
}

// WorkspaceTools returns the builtin filesystem tool set.
func WorkspaceTools() []Tool {
	return []Tool{ReadFile(), WriteFile(), ListDir()}
}
