// Package snapshot implements the tar-packaged per-user event tree:
// reading (with in-archive symlink resolution and ignore filtering),
// user-side writing, and privileged installation.
package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const eventsPrefix = "events/"

// Options controls snapshot parsing.
type Options struct {
	// IgnoreRegexp matches basenames to exclude, along with everything
	// beneath an excluded directory.
	IgnoreRegexp *regexp.Regexp
	// MaxSymlinks bounds symlink resolution hops (default 8).
	MaxSymlinks int
	// MaxSize bounds the summed body size of the regular-file members
	// under events/ (default 256 KiB).
	MaxSize int64
}

// DefaultOptions matches the scheduler's built-in config defaults.
func DefaultOptions() Options {
	return Options{MaxSymlinks: 8, MaxSize: 256 * 1024}
}

// Tree is a fully-resolved snapshot: event name (relative to events/,
// always starting with '/') -> file body.
type Tree map[string][]byte

// Read parses a tar stream (optionally gzip-compressed, detected by
// magic bytes) and returns the resolved event tree.
func Read(r io.Reader, opts Options) (Tree, error) {
	br := newPeekReader(r)
	magic, err := br.Peek(2)
	if err == nil && len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip snapshot")
		}
		defer gz.Close()
		return readTar(gz, opts)
	}
	return readTar(br, opts)
}

type regularEntry struct {
	body []byte
}

type symlinkEntry struct {
	target string
	dir    string // directory the symlink lives in, for relative target resolution
}

func readTar(r io.Reader, opts Options) (Tree, error) {
	if opts.MaxSymlinks <= 0 {
		opts.MaxSymlinks = 8
	}

	tr := tar.NewReader(r)
	regulars := map[string]regularEntry{}
	symlinks := map[string]symlinkEntry{}
	ignoredDirs := map[string]struct{}{}

	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read tar member")
		}

		if !strings.HasPrefix(hdr.Name, eventsPrefix) && hdr.Name != "events" && hdr.Name != "events/" {
			continue
		}
		var rel string
		if hdr.Name == "events" || hdr.Name == "events/" {
			rel = ""
		} else {
			rel = strings.TrimPrefix(hdr.Name, eventsPrefix)
		}
		if rel == "" {
			continue
		}
		evName := "/" + rel

		if isIgnored(rel, opts.IgnoreRegexp, ignoredDirs) {
			if hdr.Typeflag == tar.TypeDir {
				ignoredDirs[rel] = struct{}{}
			}
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			// directories themselves are discarded; only used above to
			// track ignore propagation.
			continue
		case tar.TypeReg:
			if opts.MaxSize > 0 {
				total += hdr.Size
				if total > opts.MaxSize {
					return nil, errors.Errorf("snapshot exceeds max size %d bytes", opts.MaxSize)
				}
			}
			body := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr, body); err != nil {
				return nil, errors.Wrapf(err, "read body for %q", evName)
			}
			regulars[evName] = regularEntry{body: body}
		case tar.TypeSymlink:
			symlinks[evName] = symlinkEntry{target: hdr.Linkname, dir: path.Dir(evName)}
		default:
			// other types discarded
		}
	}

	tree := make(Tree, len(regulars))
	for name, e := range regulars {
		tree[name] = e.body
	}

	for name, link := range symlinks {
		if isIgnored(strings.TrimPrefix(name, "/"), opts.IgnoreRegexp, ignoredDirs) {
			continue
		}
		resolved, ok := resolveSymlink(name, link, symlinks, regulars, opts.MaxSymlinks)
		if ok {
			tree[name] = resolved
		}
		// unresolved links are silently dropped.
	}

	return tree, nil
}

// resolveSymlink follows a symlink chain within the archive up to
// maxHops, rejecting absolute targets and any target that escapes the
// events/ subtree via "..".
func resolveSymlink(name string, link symlinkEntry, symlinks map[string]symlinkEntry, regulars map[string]regularEntry, maxHops int) ([]byte, bool) {
	seen := map[string]struct{}{name: {}}
	cur := link
	for hop := 0; hop < maxHops; hop++ {
		target := cur.target
		if path.IsAbs(target) {
			return nil, false
		}
		// Join without the leading "/" so a ".." that climbs above the
		// events/ root survives Clean and can be rejected.
		rel := path.Join(strings.TrimPrefix(cur.dir, "/"), target)
		if rel == ".." || strings.HasPrefix(rel, "../") {
			return nil, false
		}
		resolvedPath := path.Clean("/" + rel)

		if body, ok := regulars[resolvedPath]; ok {
			return body.body, true
		}
		next, ok := symlinks[resolvedPath]
		if !ok {
			return nil, false
		}
		if _, cycled := seen[resolvedPath]; cycled {
			return nil, false
		}
		seen[resolvedPath] = struct{}{}
		cur = next
	}
	return nil, false
}

func isIgnored(rel string, re *regexp.Regexp, ignoredDirs map[string]struct{}) bool {
	if re == nil {
		return false
	}
	parts := strings.Split(rel, "/")
	acc := ""
	for i, p := range parts {
		if acc == "" {
			acc = p
		} else {
			acc = acc + "/" + p
		}
		if i < len(parts)-1 {
			if _, ok := ignoredDirs[acc]; ok {
				return true
			}
		}
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// peekReader is a minimal bufio.Reader stand-in exposing only Peek, kept
// local to avoid importing bufio's full surface for a two-byte sniff.
type peekReader struct {
	r    io.Reader
	buf  []byte
	pos  int
}

func newPeekReader(r io.Reader) *peekReader { return &peekReader{r: r} }

func (p *peekReader) Peek(n int) ([]byte, error) {
	for len(p.buf)-p.pos < n {
		chunk := make([]byte, n)
		m, err := p.r.Read(chunk)
		p.buf = append(p.buf, chunk[:m]...)
		if err != nil {
			if len(p.buf)-p.pos > 0 {
				return p.buf[p.pos:], nil
			}
			return nil, err
		}
		if m == 0 {
			break
		}
	}
	end := p.pos + n
	if end > len(p.buf) {
		end = len(p.buf)
	}
	return p.buf[p.pos:end], nil
}

func (p *peekReader) Read(b []byte) (int, error) {
	if p.pos < len(p.buf) {
		n := copy(b, p.buf[p.pos:])
		p.pos += n
		if p.pos == len(p.buf) {
			p.buf = nil
			p.pos = 0
		}
		return n, nil
	}
	return p.r.Read(b)
}
