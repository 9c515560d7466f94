package logger

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"io"
	"os"
	"strings"
	"time"
)

// Init 初始化全局的zerolog，未知的级别按info处理
func Init(level string) zerolog.Level {
	return InitWithWriter(level, zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
	})
}

// InitWithWriter 同 Init，可以指定输出，测试的时候使用
func InitWithWriter(level string, w io.Writer) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	log.Logger = zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	log.Debug().Str("level", lvl.String()).Msg("logger initialized")
	return lvl
}

// WithComponent 带上模块名，用于区分日志来源
func WithComponent(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

func init() {
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
}
