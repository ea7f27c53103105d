// Package fsresource exposes a directory as MCP resources.
//
// A Dir contributes one concrete resource per file (a snapshot taken when the
// route is built) plus a "{base}/{+path}" template that reads any file under
// the root, so files created later remain addressable. Reads are confined to
// the root: when backed by an OS directory, symlinks are resolved and any
// target outside the root reads as not found.
//
// Watch reports changed files through a callback, which servers typically
// forward to clients as notifications/resources/updated.
package fsresource

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ggoodman/mcp-router-go/mcp"
	"github.com/ggoodman/mcp-router-go/mcprouter"
)

// ErrNoRoot is returned by New when neither WithOSDir nor WithFS was given.
var ErrNoRoot = errors.New("fsresource: no root configured")

// Dir serves the files of a directory tree as resources.
type Dir struct {
	// backing filesystem. When osRoot != "", this is os.DirFS(osRoot).
	fsys   fs.FS
	osRoot string // absolute, symlink-evaluated root on disk (if set)

	baseURI        string // e.g. "fs://workspace"
	name           string
	updateDebounce time.Duration
	pollInterval   time.Duration
	log            *slog.Logger

	rootErr error
}

// Option configures a Dir.
type Option func(*Dir)

// WithOSDir sets the root to an OS directory. The path must exist. Symlinks
// are resolved and reads are constrained to the resolved root.
func WithOSDir(root string) Option {
	return func(d *Dir) {
		abs, err := filepath.Abs(root)
		if err != nil {
			d.rootErr = err
			return
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			d.rootErr = err
			return
		}
		d.osRoot = real
		d.fsys = os.DirFS(real)
	}
}

// WithFS provides a generic fs.FS (e.g., embed.FS). Parent traversal is
// rejected and symlinks are not followed.
func WithFS(f fs.FS) Option { return func(d *Dir) { d.fsys = f; d.osRoot = "" } }

// WithBaseURI sets the URI prefix of every resource, e.g. "fs://workspace".
// Defaults to "fs://root".
func WithBaseURI(base string) Option {
	return func(d *Dir) { d.baseURI = strings.TrimRight(base, "/") }
}

// WithName sets the resource name reported for the template. Defaults to
// "files".
func WithName(name string) Option { return func(d *Dir) { d.name = name } }

// WithUpdateDebounce configures the per-URI update debounce interval used by
// Watch. Set to 0 to disable debouncing.
func WithUpdateDebounce(dur time.Duration) Option {
	return func(d *Dir) { d.updateDebounce = dur }
}

// WithPollInterval sets how often Watch rescans a generic fs.FS, which has no
// change events. Defaults to 2s.
func WithPollInterval(dur time.Duration) Option {
	return func(d *Dir) {
		if dur > 0 {
			d.pollInterval = dur
		}
	}
}

// WithLogger sets the logger used by Watch. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(d *Dir) { d.log = l } }

// New constructs a Dir.
func New(opts ...Option) (*Dir, error) {
	d := &Dir{
		baseURI:        "fs://root",
		name:           "files",
		updateDebounce: 250 * time.Millisecond,
		pollInterval:   2 * time.Second,
		log:            slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.rootErr != nil {
		return nil, fmt.Errorf("fsresource: invalid root: %w", d.rootErr)
	}
	if d.fsys == nil {
		return nil, ErrNoRoot
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d, nil
}

// Template returns the URI template that addresses every file under the root.
func (d *Dir) Template() string { return d.baseURI + "/{+path}" }

// Route builds a route contributing a concrete resource for every file that
// exists now, followed by the template resource.
func (d *Dir) Route(ctx context.Context) (*mcprouter.Route, error) {
	files, err := d.Files(ctx)
	if err != nil {
		return nil, err
	}

	contribs := make([]mcprouter.Contribution, 0, len(files)+1)
	for _, rel := range files {
		def, err := mcprouter.NewResource(path.Base(rel), d.relToURI(rel), d.read,
			mcprouter.WithMimeType(mimeTypeFor(rel)))
		if err != nil {
			return nil, err
		}
		contribs = append(contribs, def)
	}

	tmpl, err := mcprouter.NewResource(d.name, d.Template(), d.read,
		mcprouter.WithResourceDescription("Files under "+d.baseURI),
		mcprouter.WithResourceCompletion("path", d.completePath))
	if err != nil {
		return nil, err
	}
	contribs = append(contribs, tmpl)

	return mcprouter.NewRoute(contribs...), nil
}

// Files lists the visible regular files as slash-separated paths relative to
// the root, in lexical order.
func (d *Dir) Files(ctx context.Context) ([]string, error) {
	snap, err := d.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(snap))
	for p := range snap {
		out = append(out, p)
	}
	slices.Sort(out)
	return out, nil
}

// Read returns the contents of the file uri names. Text files are returned as
// text, anything that is not valid UTF-8 as a base64 blob.
func (d *Dir) Read(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	notFound := &mcprouter.NotFoundError{Kind: mcprouter.KindResource, Key: uri}

	rel, ok := d.uriToRel(uri)
	if !ok {
		return nil, notFound
	}

	var (
		data []byte
		err  error
	)
	if d.osRoot != "" {
		abs := filepath.Join(d.osRoot, filepath.FromSlash(rel))
		real, evalErr := filepath.EvalSymlinks(abs)
		if evalErr != nil || !within(real, d.osRoot) {
			return nil, notFound
		}
		if st, statErr := os.Stat(real); statErr != nil || !st.Mode().IsRegular() {
			return nil, notFound
		}
		data, err = os.ReadFile(real)
	} else {
		if !validFSPath(rel) {
			return nil, notFound
		}
		st, statErr := fs.Stat(d.fsys, rel)
		if statErr != nil || !st.Mode().IsRegular() {
			return nil, notFound
		}
		data, err = fs.ReadFile(d.fsys, rel)
	}
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{contentsFor(uri, mimeTypeFor(rel), data)}}, nil
}

func (d *Dir) read(ctx context.Context, req mcprouter.ResourceRequest) (*mcp.ReadResourceResult, error) {
	return d.Read(ctx, req.URI)
}

func (d *Dir) completePath(ctx context.Context, req mcprouter.CompletionRequest) ([]string, error) {
	files, err := d.Files(ctx)
	if err != nil {
		return nil, err
	}
	return mcprouter.FilterPrefix(files, req.Value), nil
}

func contentsFor(uri, mimeType string, data []byte) mcp.ResourceContents {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if utf8.Valid(data) {
		return mcp.ResourceContents{URI: uri, MimeType: mimeType, Text: string(data)}
	}
	return mcp.ResourceContents{URI: uri, MimeType: mimeType, Blob: base64.StdEncoding.EncodeToString(data)}
}

func mimeTypeFor(rel string) string {
	return mime.TypeByExtension(strings.ToLower(path.Ext(rel)))
}

// snapshot returns a map path -> file metadata for all visible files.
func (d *Dir) snapshot(ctx context.Context) (map[string]fileMeta, error) {
	rows := make(map[string]fileMeta)
	err := fs.WalkDir(d.fsys, ".", func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable nodes
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if de.IsDir() || isSymlink(de) || !validFSPath(p) {
			return nil
		}
		var meta fileMeta
		if info, e := de.Info(); e == nil {
			meta = fileMeta{size: info.Size(), mod: info.ModTime()}
		}
		rows[p] = meta
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type fileMeta struct {
	size int64
	mod  time.Time
}

func (a fileMeta) eq(b fileMeta) bool { return a.size == b.size && a.mod.Equal(b.mod) }

func isSymlink(de fs.DirEntry) bool {
	if de.Type()&fs.ModeSymlink != 0 {
		return true
	}
	// Some FS don't set Type; fall back to Info
	if info, err := de.Info(); err == nil {
		return info.Mode()&fs.ModeSymlink != 0
	}
	return false
}

func validFSPath(p string) bool {
	// fs.ValidPath requires clean, no leading slash, and no ".." segments.
	if !fs.ValidPath(p) || p == "." {
		return false
	}
	// Reject Windows volume roots and scheme-like paths.
	return !strings.Contains(p, ":")
}

func (d *Dir) relToURI(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return d.baseURI + "/" + strings.Join(segs, "/")
}

func (d *Dir) uriToRel(uri string) (string, bool) {
	p, ok := strings.CutPrefix(uri, d.baseURI+"/")
	if !ok {
		return "", false
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		dec, err := url.PathUnescape(s)
		if err != nil {
			return "", false
		}
		segs[i] = dec
	}
	rel := path.Clean(strings.Join(segs, "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", false
	}
	return rel, true
}

// within returns true if target is the same as root or a descendant of root.
func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	pending  bool
	interval time.Duration
	fire     func()
}

// trigger schedules fire after the interval. Triggers that arrive while a
// fire is pending are merged into it.
func (db *debouncer) trigger() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.interval <= 0 {
		db.fire()
		return
	}
	if db.pending {
		return
	}
	db.pending = true
	if db.timer == nil {
		db.timer = time.AfterFunc(db.interval, db.flush)
	} else {
		db.timer.Reset(db.interval)
	}
}

func (db *debouncer) flush() {
	db.mu.Lock()
	db.pending = false
	db.mu.Unlock()
	db.fire()
}

func (db *debouncer) stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.timer != nil {
		db.timer.Stop()
	}
	db.pending = false
}
