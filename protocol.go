package lnclient

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jhump/protoreflect/desc/protoparse"
	"google.golang.org/protobuf/reflect/protoreflect"
)

const annotationsImport = `import "google/api/annotations.proto";`

var httpOption = []byte(`option (google.api.http)`)

//go:embed lnrpc/rpc.proto
var vendoredProto []byte

// VendoredProto returns a copy of the unpatched protocol definition embedded
// in this package.
func VendoredProto() []byte {
	return bytes.Clone(vendoredProto)
}

// PatchProto returns src with the google/api/annotations.proto import
// removed. Every `option (google.api.http)` statement depending on that
// import is removed as well, whether it occupies its own lines or sits
// inline within a method body, leaving empty method bodies.
func PatchProto(src []byte) []byte {
	out := make([]byte, 0, len(src))
	for {
		i := bytes.Index(src, httpOption)
		if i < 0 {
			break
		}
		head, tail := src[:i], src[optionEnd(src, i):]
		// a statement alone on its line takes the line with it
		if start := bytes.LastIndexByte(head, '\n') + 1; len(bytes.TrimSpace(head[start:])) == 0 {
			if end := bytes.IndexByte(tail, '\n'); end >= 0 && len(bytes.TrimSpace(tail[:end])) == 0 {
				head, tail = head[:start], tail[end+1:]
			}
		}
		out = append(out, head...)
		src = tail
	}
	out = append(out, src...)

	lines := bytes.SplitAfter(out, []byte("\n"))
	out = out[:0:0]
	for _, line := range lines {
		if string(bytes.TrimSpace(line)) != annotationsImport {
			out = append(out, line...)
		}
	}
	return out
}

// optionEnd returns the index just past the `;` terminating the option
// statement beginning at src[start], skipping nested braces and string
// literals, or len(src) if it is unterminated.
func optionEnd(src []byte, start int) int {
	var (
		depth int
		quote byte
	)
	for i := start; i < len(src); i++ {
		c := src[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '{':
			depth++
		case c == '}':
			depth--
		case c == ';' && depth <= 0:
			return i + 1
		}
	}
	return len(src)
}

// readProtoSource returns the unpatched definition, from cfg.ProtoPath, or
// the vendored copy.
func readProtoSource(cfg *Config) ([]byte, error) {
	if cfg.ProtoPath == `` {
		return vendoredProto, nil
	}
	b, err := os.ReadFile(cfg.ProtoPath)
	if err != nil {
		return nil, protocolLoad(`read definition`, err)
	}
	return b, nil
}

// ensurePatchedProto writes the patched definition, if it does not already
// exist, returning its path and whether it was written. If
// cfg.PatchedProtoPath is empty, the path is [DefaultPatchedProtoPath] of
// the source, so a changed definition is never shadowed by an older copy.
func ensurePatchedProto(cfg *Config) (path string, written bool, err error) {
	var patched []byte
	path = cfg.PatchedProtoPath
	if path == `` {
		src, err := readProtoSource(cfg)
		if err != nil {
			return ``, false, err
		}
		patched = PatchProto(src)
		path = DefaultPatchedProtoPath(patched)
	}

	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return ``, false, protocolLoad(`stat patched definition`, err)
	}

	if patched == nil {
		src, err := readProtoSource(cfg)
		if err != nil {
			return ``, false, err
		}
		patched = PatchProto(src)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ``, false, protocolLoad(`write patched definition`, err)
	}

	// written via rename, so concurrent bootstraps never parse a partial file
	f, err := os.CreateTemp(dir, `.`+filepath.Base(path)+`.*`)
	if err != nil {
		return ``, false, protocolLoad(`write patched definition`, err)
	}
	_, err = f.Write(patched)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(f.Name(), path)
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return ``, false, protocolLoad(`write patched definition`, err)
	}

	return path, true, nil
}

// loadService parses the patched definition at path, returning the
// descriptor of cfg.Service.
func loadService(cfg *Config, path string) (protoreflect.ServiceDescriptor, error) {
	parser := protoparse.Parser{
		ImportPaths: []string{filepath.Dir(path)},
	}
	files, err := parser.ParseFiles(filepath.Base(path))
	if err != nil {
		return nil, protocolLoad(`parse definition`, err)
	}
	for _, file := range files {
		services := file.UnwrapFile().Services()
		for i := 0; i < services.Len(); i++ {
			if service := services.Get(i); string(service.FullName()) == cfg.Service {
				return service, nil
			}
		}
	}
	return nil, protocolLoad(`parse definition`, fmt.Errorf(`service %q not found`, cfg.Service))
}
