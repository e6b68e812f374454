package ftp

import (
	"context"
	"os"
	"path"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/vfs"
)

// ============================================================================
// Directory Navigation
// ============================================================================

func (e *Engine) handlePWD(ctx context.Context, s *Session, arg string) (Reply, error) {
	return NewReply(257, `"%s" is the current directory`, s.Cwd), nil
}

func (e *Engine) handleCWD(ctx context.Context, s *Session, arg string) (Reply, error) {
	if arg == "" {
		return ReplySyntaxError, nil
	}
	return e.changeDir(ctx, s, arg)
}

func (e *Engine) handleCDUP(ctx context.Context, s *Session, arg string) (Reply, error) {
	if s.Cwd == "/" {
		return NewReply(250, "Already in root directory"), nil
	}
	return e.changeDir(ctx, s, "..")
}

// changeDir resolves target against the session and mutates Cwd only when
// the result is an existing directory inside the root.
func (e *Engine) changeDir(ctx context.Context, s *Session, target string) (Reply, error) {
	osPath, virtual, err := vfs.ResolveSafe(s.Root, s.Cwd, target)
	if err != nil {
		return NewReply(550, "Failed to change directory"), nil
	}
	info, err := vfs.GetInfo(osPath)
	if err != nil || !info.IsDir {
		return NewReply(550, "Failed to change directory"), nil
	}

	s.Cwd = virtual
	return NewReply(250, `CWD command successful. "%s" is current directory`, virtual), nil
}

// ============================================================================
// File Management
// ============================================================================

func (e *Engine) handleMKD(ctx context.Context, s *Session, arg string) (Reply, error) {
	if arg == "" {
		return ReplySyntaxError, nil
	}

	osPath, virtual, err := vfs.ResolveSafe(s.Root, s.Cwd, arg)
	if err != nil {
		return NewReply(550, "Failed to create directory"), nil
	}
	if !vfs.IsValidFilename(path.Base(virtual)) {
		return NewReply(553, "Requested action not taken. File name not allowed"), nil
	}
	if _, err := vfs.GetInfo(osPath); err == nil {
		return NewReply(550, "Directory already exists"), nil
	}

	if err := os.Mkdir(osPath, 0o755); err != nil {
		logger.WarnCtx(ctx, "Mkdir failed", logger.KeyPath, virtual, logger.KeyError, err)
		return NewReply(550, "Failed to create directory"), nil
	}

	logger.InfoCtx(ctx, "Directory created", logger.KeyPath, virtual)
	return NewReply(257, `"%s" directory created`, virtual), nil
}

func (e *Engine) handleRMD(ctx context.Context, s *Session, arg string) (Reply, error) {
	if arg == "" {
		return ReplySyntaxError, nil
	}

	osPath, virtual, err := vfs.ResolveSafe(s.Root, s.Cwd, arg)
	if err != nil {
		return NewReply(550, "Directory not found"), nil
	}
	info, err := vfs.GetInfo(osPath)
	if err != nil {
		return NewReply(550, "Directory not found"), nil
	}
	if !info.IsDir {
		return NewReply(550, "Not a directory"), nil
	}

	entries, err := vfs.ListDirectory(osPath)
	if err != nil {
		return NewReply(550, "Failed to read directory"), nil
	}
	if len(entries) > 0 {
		return NewReply(550, "Directory not empty"), nil
	}

	if err := os.Remove(osPath); err != nil {
		logger.WarnCtx(ctx, "Rmdir failed", logger.KeyPath, virtual, logger.KeyError, err)
		return NewReply(550, "Failed to remove directory"), nil
	}

	logger.InfoCtx(ctx, "Directory removed", logger.KeyPath, virtual)
	return NewReply(250, "Directory removed"), nil
}

func (e *Engine) handleDELE(ctx context.Context, s *Session, arg string) (Reply, error) {
	if arg == "" {
		return ReplySyntaxError, nil
	}

	osPath, virtual, err := vfs.ResolveSafe(s.Root, s.Cwd, arg)
	if err != nil {
		return NewReply(550, "File not found"), nil
	}
	info, err := vfs.GetInfo(osPath)
	if err != nil {
		return NewReply(550, "File not found"), nil
	}
	if info.IsDir {
		return NewReply(550, "Is a directory, use RMD"), nil
	}

	if err := os.Remove(osPath); err != nil {
		logger.WarnCtx(ctx, "Delete failed", logger.KeyPath, virtual, logger.KeyError, err)
		return NewReply(550, "Failed to delete file"), nil
	}

	logger.InfoCtx(ctx, "File deleted", logger.KeyPath, virtual)
	return NewReply(250, "File deleted"), nil
}

// ============================================================================
// Two-Step Rename
// ============================================================================

func (e *Engine) handleRNFR(ctx context.Context, s *Session, arg string) (Reply, error) {
	if arg == "" {
		return ReplySyntaxError, nil
	}

	osPath, virtual, err := vfs.ResolveSafe(s.Root, s.Cwd, arg)
	if err != nil {
		return NewReply(550, "File or directory not found"), nil
	}
	if _, err := vfs.GetInfo(osPath); err != nil {
		return NewReply(550, "File or directory not found"), nil
	}

	s.renameSource = osPath
	s.renameSourceVirtual = virtual
	return NewReply(350, "Ready for RNTO"), nil
}

// handleRNTO completes a rename started by RNFR. The pending source is
// cleared on every exit path so a later RNTO can never complete a stale
// rename.
func (e *Engine) handleRNTO(ctx context.Context, s *Session, arg string) (Reply, error) {
	source := s.renameSource
	sourceVirtual := s.renameSourceVirtual
	s.clearRename()

	if source == "" {
		return ReplyBadSequence, nil
	}
	if arg == "" {
		return ReplySyntaxError, nil
	}

	osPath, virtual, err := vfs.ResolveSafe(s.Root, s.Cwd, arg)
	if err != nil {
		return NewReply(550, "Rename failed"), nil
	}
	if !vfs.IsValidFilename(path.Base(virtual)) {
		return NewReply(553, "Requested action not taken. File name not allowed"), nil
	}

	if err := os.Rename(source, osPath); err != nil {
		logger.WarnCtx(ctx, "Rename failed",
			logger.KeyOldPath, sourceVirtual,
			logger.KeyNewPath, virtual,
			logger.KeyError, err)
		return NewReply(550, "Rename failed"), nil
	}

	logger.InfoCtx(ctx, "Renamed",
		logger.KeyOldPath, sourceVirtual,
		logger.KeyNewPath, virtual)
	return NewReply(250, "Rename successful"), nil
}

// ============================================================================
// Metadata Queries
// ============================================================================

func (e *Engine) handleSIZE(ctx context.Context, s *Session, arg string) (Reply, error) {
	info, reply := e.statFile(s, arg)
	if !reply.IsZero() {
		return reply, nil
	}
	return NewReply(213, "%d", info.Size), nil
}

func (e *Engine) handleMDTM(ctx context.Context, s *Session, arg string) (Reply, error) {
	info, reply := e.statFile(s, arg)
	if !reply.IsZero() {
		return reply, nil
	}
	return NewReply(213, "%s", info.ModTime.UTC().Format("20060102150405")), nil
}

// statFile resolves and stats a regular-file argument for SIZE/MDTM.
// A non-zero reply means the lookup failed and should be sent as-is.
func (e *Engine) statFile(s *Session, arg string) (vfs.FileInfo, Reply) {
	if arg == "" {
		return vfs.FileInfo{}, ReplySyntaxError
	}

	osPath, _, err := vfs.ResolveSafe(s.Root, s.Cwd, arg)
	if err != nil {
		return vfs.FileInfo{}, NewReply(550, "File not found")
	}
	info, err := vfs.GetInfo(osPath)
	if err != nil {
		return vfs.FileInfo{}, NewReply(550, "File not found")
	}
	if info.IsDir {
		return vfs.FileInfo{}, NewReply(550, "Is a directory")
	}
	return info, Reply{}
}
