package ftp

import (
	"context"
	"errors"
	"io"
	"os"
	"path"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/metrics"
	"github.com/wharfd/wharfd/pkg/vfs"
)

// ============================================================================
// RETR
// ============================================================================

// handleRETR streams a file to the client in fixed-size chunks after a 150
// mark. A failure reading the file aborts with 426; a failure writing the
// connection is fatal to the session.
func (e *Engine) handleRETR(ctx context.Context, s *Session, arg string) (Reply, error) {
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
		return NewReply(550, "Is a directory"), nil
	}

	file, err := os.Open(osPath)
	if err != nil {
		return NewReply(550, "Failed to open file"), nil
	}
	defer file.Close()

	if err := writeReply(s, NewReply(150, "Opening data connection for %s (%d bytes)", path.Base(virtual), info.Size)); err != nil {
		return Reply{}, err
	}

	var sent int64
	buf := make([]byte, e.chunkSize)
	for {
		n, rerr := file.Read(buf)
		if n > 0 {
			if _, werr := s.Conn.Write(buf[:n]); werr != nil {
				return Reply{}, werr
			}
			sent += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			logger.WarnCtx(ctx, "Download aborted",
				logger.KeyPath, virtual,
				logger.KeyBytes, sent,
				logger.KeyError, rerr)
			return NewReply(426, "Connection closed; transfer aborted"), nil
		}
	}

	if e.metrics != nil {
		e.metrics.RecordTransferBytes(metrics.DirectionSent, sent)
	}
	logger.InfoCtx(ctx, "File sent", logger.KeyPath, virtual, logger.KeyBytes, sent)

	return NewReply(226, "Transfer complete"), nil
}

// ============================================================================
// STOR
// ============================================================================

// handleSTOR receives a file from the client. End-of-data is delimited by a
// preceding ALLO declaration when present; otherwise the upload runs until
// the client half-closes the connection, which also ends the session. An
// interrupted upload deletes the partial file before responding.
func (e *Engine) handleSTOR(ctx context.Context, s *Session, arg string) (Reply, error) {
	declared := s.takeAllocSize()

	if arg == "" {
		return ReplySyntaxError, nil
	}

	osPath, virtual, err := vfs.ResolveSafe(s.Root, s.Cwd, arg)
	if err != nil {
		return NewReply(553, "Requested action not taken. File name not allowed"), nil
	}
	if !vfs.IsValidFilename(path.Base(virtual)) {
		return NewReply(553, "Requested action not taken. File name not allowed"), nil
	}
	if info, err := vfs.GetInfo(osPath); err == nil && info.IsDir {
		return NewReply(553, "Requested action not taken. Target is a directory"), nil
	}

	file, err := os.Create(osPath)
	if err != nil {
		return NewReply(550, "Failed to open file"), nil
	}

	if err := writeReply(s, NewReply(150, "Ok to send data")); err != nil {
		file.Close()
		os.Remove(osPath)
		return Reply{}, err
	}

	var src io.Reader = s.Conn
	if declared > 0 {
		src = io.LimitReader(s.Conn, declared)
	}

	received, copyErr := io.CopyBuffer(file, src, make([]byte, e.chunkSize))
	closeErr := file.Close()

	if copyErr != nil || closeErr != nil || (declared > 0 && received < declared) {
		os.Remove(osPath)
		logger.WarnCtx(ctx, "Upload aborted",
			logger.KeyPath, virtual,
			logger.KeyBytes, received,
			logger.KeyError, errors.Join(copyErr, closeErr))
		reply := NewReply(426, "Connection closed; transfer aborted")
		// A short read against a declared length means the client went
		// away; the transport is done either way.
		if copyErr != nil || (declared > 0 && received < declared) {
			return reply, errors.Join(copyErr, io.ErrUnexpectedEOF)
		}
		return reply, nil
	}

	if e.metrics != nil {
		e.metrics.RecordTransferBytes(metrics.DirectionReceived, received)
	}
	logger.InfoCtx(ctx, "File received", logger.KeyPath, virtual, logger.KeyBytes, received)

	return NewReply(226, "Transfer complete"), nil
}
