package ftp

import (
	"context"
	"fmt"
	"io"

	"github.com/wharfd/wharfd/pkg/metrics"
	"github.com/wharfd/wharfd/pkg/vfs"
)

// ============================================================================
// Listings
// ============================================================================

// handleLIST streams a Unix-style listing over the control connection. The
// target defaults to the current directory; a non-directory target yields a
// single entry.
func (e *Engine) handleLIST(ctx context.Context, s *Session, arg string) (Reply, error) {
	return e.streamListing(ctx, s, arg, formatListLine)
}

// handleMLSD streams machine-readable fact lines for a directory.
func (e *Engine) handleMLSD(ctx context.Context, s *Session, arg string) (Reply, error) {
	return e.streamListing(ctx, s, arg, formatFactLine)
}

func (e *Engine) streamListing(ctx context.Context, s *Session, arg string, format func(vfs.FileInfo) string) (Reply, error) {
	entries, reply := e.listTarget(s, arg)
	if !reply.IsZero() {
		return reply, nil
	}

	if err := writeReply(s, NewReply(150, "Here comes the directory listing")); err != nil {
		return Reply{}, err
	}

	var sent int64
	for _, entry := range entries {
		n, err := io.WriteString(s.Conn, format(entry)+"\r\n")
		sent += int64(n)
		if err != nil {
			return Reply{}, err
		}
	}
	if e.metrics != nil {
		e.metrics.RecordTransferBytes(metrics.DirectionSent, sent)
	}

	return NewReply(226, "Directory send OK"), nil
}

// listTarget resolves the listing target. A non-zero reply means resolution
// failed; otherwise the entries to emit are returned.
func (e *Engine) listTarget(s *Session, arg string) ([]vfs.FileInfo, Reply) {
	target := s.Cwd
	if arg != "" {
		target = arg
	}

	osPath, _, err := vfs.ResolveSafe(s.Root, s.Cwd, target)
	if err != nil {
		return nil, NewReply(550, "Failed to list directory")
	}
	info, err := vfs.GetInfo(osPath)
	if err != nil {
		return nil, NewReply(550, "Failed to list directory")
	}

	if !info.IsDir {
		return []vfs.FileInfo{info}, Reply{}
	}

	entries, err := vfs.ListDirectory(osPath)
	if err != nil {
		return nil, NewReply(550, "Failed to list directory")
	}
	return entries, Reply{}
}

// handleMLST replies with the facts of a single path as a multi-line reply
// on the control connection; no payload stream is involved.
func (e *Engine) handleMLST(ctx context.Context, s *Session, arg string) (Reply, error) {
	target := s.Cwd
	if arg != "" {
		target = arg
	}

	osPath, virtual, err := vfs.ResolveSafe(s.Root, s.Cwd, target)
	if err != nil {
		return NewReply(550, "File or directory not found"), nil
	}
	info, err := vfs.GetInfo(osPath)
	if err != nil {
		return NewReply(550, "File or directory not found"), nil
	}

	return MultiReply(250,
		"Listing "+virtual,
		formatFacts(info)+" "+virtual,
		"End",
	), nil
}

// ============================================================================
// Entry Formatting
// ============================================================================

// formatListLine renders one LIST entry in the conventional long format:
// permissions, link count, owner, group, size, date, name.
func formatListLine(info vfs.FileInfo) string {
	return fmt.Sprintf("%s %3d %-8s %-8s %8d %s %s",
		info.Mode.String(), 1, "owner", "group", info.Size,
		info.ModTime.Format("Jan 02 15:04"), info.Name)
}

// formatFactLine renders one MLSD entry: facts, a space, then the name.
func formatFactLine(info vfs.FileInfo) string {
	return formatFacts(info) + " " + info.Name
}

func formatFacts(info vfs.FileInfo) string {
	modify := info.ModTime.UTC().Format("20060102150405")
	if info.IsDir {
		return fmt.Sprintf("type=dir;modify=%s;perm=el;", modify)
	}
	return fmt.Sprintf("type=file;size=%d;modify=%s;perm=adfrw;", info.Size, modify)
}

// writeReply sends a preliminary reply directly on the session connection.
// Only streaming handlers use it; final replies are written by the worker.
func writeReply(s *Session, r Reply) error {
	_, err := s.Conn.Write([]byte(r.String()))
	return err
}
