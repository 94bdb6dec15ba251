package tools

import "context"

// ClientFS reads and writes files through the connected client instead of
// the agent's own filesystem. The client's view can differ from disk, for
// example unsaved editor buffers, so clients that advertise the capability
// get these tools in place of the builtin ones.
type ClientFS interface {
	// ReadTextFile returns file content. line and limit select a window
	// when positive; zero means the whole file.
	ReadTextFile(ctx context.Context, sessionID, path string, line, limit int) (string, error)
	// WriteTextFile replaces file content.
	WriteTextFile(ctx context.Context, sessionID, path, content string) error
}

type clientReadArgs struct {
	Path  string `json:"path" jsonschema:"minLength=1,description=File to read"`
	Line  int    `json:"line,omitempty" jsonschema:"minimum=1,description=First line to read"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,description=Maximum number of lines to read"`
}

// ClientReadFile proxies reads through the client's filesystem view.
func ClientReadFile(fs ClientFS) Tool {
	return New("read_text_file", func(ctx context.Context, call *Call, args clientReadArgs) (*Result, error) {
		content, err := fs.ReadTextFile(ctx, call.SessionID, args.Path, args.Line, args.Limit)
		if err != nil {
			return Errorf("failed to read %s: %v", args.Path, err), nil
		}
		return Text(content), nil
	}, WithDescription("Read a text file through the client. Sees unsaved editor state."))
}

type clientWriteArgs struct {
	Path    string `json:"path" jsonschema:"minLength=1,description=File to write"`
	Content string `json:"content" jsonschema:"description=Full new content of the file"`
}

// ClientWriteFile proxies writes through the client's filesystem view.
func ClientWriteFile(fs ClientFS) Tool {
	return New("write_text_file", func(ctx context.Context, call *Call, args clientWriteArgs) (*Result, error) {
		if err := fs.WriteTextFile(ctx, call.SessionID, args.Path, args.Content); err != nil {
			return Errorf("failed to write %s: %v", args.Path, err), nil
		}
		return Textf("Wrote %s", args.Path), nil
	}, WithDescription("Write a text file through the client."))
}

// ClientFSTools returns the client-proxied filesystem tool set.
func ClientFSTools(fs ClientFS) []Tool {
	return []Tool{ClientReadFile(fs), ClientWriteFile(fs)}
}
