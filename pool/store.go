package pool

import (
	"bufio"
	"bytes"
	"fmt"
	"github.com/LubyRuffy/rproxypool/logger"
	"github.com/spf13/afero"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store 候选代理列表的持久化
type Store interface {
	// Load 按顺序返回候选代理字符串，无法读取的时候返回 ErrSourceUnavailable
	Load() ([]string, error)
	// Save 整体替换，不能让其他读者看到写了一半的内容
	Save(raws []string) error
}

// FileStore 一行一个代理的文本文件，空行和#开头的行忽略
type FileStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewFileStore 使用操作系统文件系统
func NewFileStore(path string) *FileStore {
	return NewFileStoreFs(afero.NewOsFs(), path)
}

// NewFileStoreFs 指定文件系统，测试的时候可以用 afero.NewMemMapFs()
func NewFileStoreFs(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Path 文件路径
func (s *FileStore) Path() string {
	return s.path
}

// Load 实现 Store
func (s *FileStore) Load() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, s.path, err)
	}

	var raws []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raws = append(raws, line)
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, s.path, err)
	}
	return raws, nil
}

// Save 先写临时文件再rename，保证替换是原子的
func (s *FileStore) Save(raws []string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := logger.WithComponent("pool/store")

	var buf bytes.Buffer
	for _, raw := range raws {
		buf.WriteString(raw)
		buf.WriteByte('\n')
	}

	perm := os.FileMode(0644)
	if fi, err := s.fs.Stat(s.path); err == nil {
		perm = fi.Mode().Perm()
	}

	tmp, err := afero.TempFile(s.fs, filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			s.fs.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = s.fs.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = s.fs.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	l.Debug().Str("path", s.path).Int("count", len(raws)).Msg("proxy list saved")
	return nil
}
