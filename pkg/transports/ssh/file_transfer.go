package ssh

import (
	"context"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

// Upload copies a local file to remotePath over SFTP, creating parent
// directories. A non-zero mode is applied to the remote file.
func (c *SSHClient) Upload(ctx context.Context, localPath, remotePath string, mode uint32) error {
	startTime := time.Now()

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Uint32("mode", mode).
		Msg("uploading file")

	localFile, err := os.Open(localPath)
	if err != nil {
		return errdefs.Configuration("failed to open local file", err)
	}
	defer localFile.Close()

	c.connMu.RLock()
	client := c.client
	c.connMu.RUnlock()
	if client == nil {
		return errdefs.Transport("ssh client is not connected", nil)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return errdefs.Transport("failed to create SFTP client", err)
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return errdefs.Transport("failed to create remote directory", err)
	}

	// Write to a temporary name and rename, so a running agent binary is
	// never truncated in place.
	tmpPath := remotePath + ".upload"
	remoteFile, err := sftpClient.Create(tmpPath)
	if err != nil {
		return errdefs.Transport("failed to create remote file", err)
	}

	written, err := copyWithContext(ctx, remoteFile, localFile)
	if closeErr := remoteFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = sftpClient.Remove(tmpPath)
		return errdefs.Transport("failed to copy file", err)
	}

	if mode > 0 {
		if err := sftpClient.Chmod(tmpPath, os.FileMode(mode)); err != nil {
			return errdefs.Transport("failed to set file permissions", err)
		}
	}
	if err := sftpClient.PosixRename(tmpPath, remotePath); err != nil {
		return errdefs.Transport("failed to move uploaded file into place", err)
	}

	log.Info().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("file uploaded")

	return nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
