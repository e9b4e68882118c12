// Package hostsfile owns the delimited block plugwatch maintains inside the
// system hosts file. Content outside the block is never modified.
package hostsfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/haukened/plugwatch/internal/plugwatch/common/log"
	"github.com/haukened/plugwatch/internal/plugwatch/domain"
)

// Error message constants for consistent error handling
const (
	errPathRequired      = "hosts file path is required"
	errDelimiterRequired = "delimiter is required"
	errRead              = "%w: read %s: %w"
	errResolve           = "%w: resolve %s: %w"
	errWrite             = "%w: replace %s: %w"
)

// CacheFlusher invalidates the resolver cache after a successful rewrite.
type CacheFlusher interface {
	Flush(ctx context.Context) error
}

// writeFunc atomically replaces target with data, applying perm and ownership.
type writeFunc func(target string, data []byte, perm fs.FileMode, uid, gid int) error

// Options configures a Manager.
type Options struct {
	// required parameters
	Path      string
	Delimiter string
	// BlockAddress is prepended to each host; empty writes hosts as supplied.
	BlockAddress string
	// Flusher may be nil to skip cache invalidation.
	Flusher CacheFlusher
	Logger  log.Logger
}

// Manager applies or removes the managed block.
type Manager struct {
	path         string
	delimiter    string
	blockAddress string
	flusher      CacheFlusher
	logger       log.Logger
	write        writeFunc
}

// NewManager validates opts and returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errPathRequired)
	}
	if opts.Delimiter == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errDelimiterRequired)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Manager{
		path:         opts.Path,
		delimiter:    opts.Delimiter,
		blockAddress: opts.BlockAddress,
		flusher:      opts.Flusher,
		logger:       logger,
		write:        replaceFile,
	}, nil
}

// Path returns the configured hosts file path.
func (m *Manager) Path() string { return m.path }

// Apply rewrites the hosts file so the managed block holds blocklist when
// shouldBlock is true and is absent otherwise. Lines before the first
// delimiter are preserved. The rewrite is atomic; on success the resolver
// cache is flushed, and a flush failure is logged but not returned.
//
// Errors wrap domain.ErrHostsNotFound, domain.ErrHostsPermission or
// domain.ErrHostsIO. A done ctx aborts before the write and returns ctx.Err().
func (m *Manager) Apply(ctx context.Context, shouldBlock bool, blocklist []string) error {
	target, err := filepath.EvalSymlinks(m.path)
	if err != nil {
		return classify(errResolve, m.path, err)
	}

	current, err := os.ReadFile(target)
	if err != nil {
		return classify(errRead, target, err)
	}

	doc := Parse(current, m.delimiter)
	if doc.Discarded > 0 {
		m.logger.Warn(map[string]any{
			"path":      target,
			"discarded": doc.Discarded,
		}, "content found after the managed block will be dropped; move it above the first delimiter to keep it")
	}
	if doc.Unterminated {
		m.logger.Warn(map[string]any{"path": target}, "managed block has no closing delimiter; replacing everything after the opening one")
	}

	var entries []string
	if shouldBlock {
		entries = FormatEntries(m.blockAddress, blocklist)
	}
	next := Render(doc.Prefix, m.delimiter, entries)

	if bytes.Equal(next, current) {
		m.logger.Debug(map[string]any{"path": target, "block": shouldBlock}, "hosts file already up to date")
	} else {
		if err := ctx.Err(); err != nil {
			return err
		}
		perm, uid, gid := ownership(target)
		if err := m.write(target, next, perm, uid, gid); err != nil {
			return classify(errWrite, target, err)
		}
		if shouldBlock {
			m.logger.Info(map[string]any{"path": target, "hosts": len(blocklist)}, "managed block written")
		} else {
			m.logger.Info(map[string]any{"path": target}, "managed block removed")
		}
	}

	if m.flusher != nil {
		if err := m.flusher.Flush(ctx); err != nil {
			m.logger.Warn(map[string]any{"error": err}, "hosts file is correct but cached lookups may be stale")
		}
	}
	return nil
}

// classify maps an OS error onto the hosts-file error taxonomy.
func classify(format, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf(format, domain.ErrHostsNotFound, path, err)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, unix.EROFS):
		return fmt.Errorf(format, domain.ErrHostsPermission, path, err)
	default:
		return fmt.Errorf(format, domain.ErrHostsIO, path, err)
	}
}

// ownership returns the mode and owner of path, falling back to 0644 and
// the current process when they cannot be read.
func ownership(path string) (fs.FileMode, int, int) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0o644, -1, -1
	}
	return fs.FileMode(st.Mode & 0o777), int(st.Uid), int(st.Gid)
}

// replaceFile writes data to a sibling temp file, syncs it and renames it
// over target, so readers see either the old or the new content.
func replaceFile(target string, data []byte, perm fs.FileMode, uid, gid int) (err error) {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".plugwatch-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if uid >= 0 && gid >= 0 {
		// only root may give the file away; keeping our own ownership is fine otherwise
		if cerr := tmp.Chown(uid, gid); cerr != nil && !errors.Is(cerr, fs.ErrPermission) {
			return cerr
		}
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, target); err != nil {
		return err
	}

	// best effort: persist the rename itself
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
