// Package utils 进程相关的辅助函数
package utils

const (
	// DefaultFileLimit 默认的文件句柄上限
	DefaultFileLimit uint64 = 32000

	darwinOpenMax uint64 = 10240
)
