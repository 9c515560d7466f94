//go:build darwin || linux || netbsd || openbsd
// +build darwin linux netbsd openbsd

package utils

import (
	"fmt"
	"github.com/LubyRuffy/rproxypool/logger"
	"runtime"
	"syscall"
)

// RaiseFileLimit 把文件句柄上限提高到 want，并发验证和转发需要大量连接。
// 返回设置之后的上限
func RaiseFileLimit(want uint64) (uint64, error) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, fmt.Errorf("error getting rlimit: %w", err)
	}
	if want == 0 {
		want = DefaultFileLimit
	}
	if rLimit.Cur >= want {
		return uint64(rLimit.Cur), nil
	}

	oldMax := rLimit.Max
	if uint64(rLimit.Max) < want {
		rLimit.Max = want
	}
	rLimit.Cur = want

	// darwin 上 Getrlimit 返回的值不对，最大只能是 OPEN_MAX
	// https://github.com/golang/go/issues/30401
	if runtime.GOOS == "darwin" && rLimit.Cur > darwinOpenMax {
		rLimit.Max = darwinOpenMax
		rLimit.Cur = darwinOpenMax
	}

	// 没有权限提高最大值的时候，用之前的最大值
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		rLimit.Max = oldMax
		rLimit.Cur = oldMax
		if err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
			return 0, fmt.Errorf("error setting ulimit: %w", err)
		}
	}

	l := logger.WithComponent("utils")
	l.Info().Uint64("limit", uint64(rLimit.Cur)).Msg("raised file descriptor limit")
	return uint64(rLimit.Cur), nil
}
