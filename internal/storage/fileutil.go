package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic 先写临时文件再改名落位，保证读者不会看到半截内容。
// 每个写入者持有独立的临时文件，并发写同一路径互不干扰，
// 为后改名者胜出；内容按约定字节一致，重复写是无害的。
func WriteFileAtomic(targetPath string, r io.Reader) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}

	file, err := os.CreateTemp(dir, filepath.Base(targetPath)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := file.Name()

	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
