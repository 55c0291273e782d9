package runner

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// JVM-style launchers pass auxiliary argument files as "@/path/to/file".
// Those files exist on the host only, so each one is pushed into the
// container's filesystem at the same absolute path before the container
// starts.

const optionFileCopyAttempts = 10

func copyOptionFiles(ctx context.Context, client Client, containerID string, arguments []string, logger *log.Logger) error {
	for _, arg := range arguments {
		if !strings.HasPrefix(arg, "@") {
			continue
		}
		path := strings.TrimPrefix(arg, "@")
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		archive, err := tarSingleFile(path)
		if err != nil {
			return fmt.Errorf("archiving option file %s: %w", path, err)
		}

		copied := false
		for attempt := 1; attempt <= optionFileCopyAttempts; attempt++ {
			if err := client.CopyToContainer(ctx, containerID, "/", bytes.NewReader(archive)); err != nil {
				logger.Warn("failed copying option file to container",
					"file", path, "container", containerID, "attempt", attempt, "err", err)
				continue
			}
			copied = true
			break
		}
		if !copied {
			return fmt.Errorf("error copying option file %s to container %s", path, containerID)
		}
	}
	return nil
}

// tarSingleFile archives one file with its path relative to the filesystem
// root, so extracting at "/" recreates it at the same absolute path.
func tarSingleFile(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return nil, err
	}
	header.Name = strings.TrimPrefix(filepath.ToSlash(abs), "/")
	if err := tw.WriteHeader(header); err != nil {
		return nil, err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
