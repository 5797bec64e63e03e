package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// stallingReader 先交出第一段内容，然后阻塞等待放行，再交出剩余部分。
type stallingReader struct {
	chunks  [][]byte
	started chan struct{}
	release chan struct{}
	index   int
}

func (r *stallingReader) Read(p []byte) (int, error) {
	if r.index >= len(r.chunks) {
		return 0, io.EOF
	}
	if r.index == 1 {
		close(r.started)
		<-r.release
	}
	n := copy(p, r.chunks[r.index])
	r.index++
	return n, nil
}

func TestWriteFileAtomic_WritesContent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "local_content", "ab", "cd", "efgh")

	if err := WriteFileAtomic(target, bytes.NewReader([]byte("payload"))); err != nil {
		t.Fatalf("WriteFileAtomic returned error: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected content: %q", data)
	}
}

// 并发回填同一标识时两个写入者必须互不干扰：慢的那个写到一半时
// 快的完成落位，慢的随后完成也不能留下损坏的内容。
func TestWriteFileAtomic_ConcurrentWritersSameTarget(t *testing.T) {
	target := filepath.Join(t.TempDir(), "local_content", "ab", "cd", "efgh")
	payload := []byte("ABCDEFGHIJK")

	slow := &stallingReader{
		chunks:  [][]byte{payload[:3], payload[3:]},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	done := make(chan error, 1)
	go func() {
		done <- WriteFileAtomic(target, slow)
	}()

	// 慢写入者已经写出第一段，此时插入一个完整的快写入者
	<-slow.started
	if err := WriteFileAtomic(target, bytes.NewReader(payload)); err != nil {
		t.Fatalf("fast writer returned error: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read after fast writer: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("fast writer result corrupted: %q", data)
	}

	close(slow.release)
	if err := <-done; err != nil {
		t.Fatalf("slow writer returned error: %v", err)
	}

	data, err = os.ReadFile(target)
	if err != nil {
		t.Fatalf("read after slow writer: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("slow writer result corrupted: %q", data)
	}
}

func TestWriteFileAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "content")

	if err := WriteFileAtomic(target, bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("WriteFileAtomic returned error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "content" {
		t.Fatalf("unexpected leftovers in %v", entries)
	}
}
