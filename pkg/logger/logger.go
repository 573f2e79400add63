package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var std = logrus.New()

func init() {
	std.SetOutput(os.Stdout)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Setup 按配置设置日志级别与格式
func Setup(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("无效的日志级别 %q: %w", level, err)
	}
	std.SetLevel(lvl)

	switch format {
	case "json":
		std.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("无效的日志格式 %q", format)
	}
	return nil
}

// SetOutput 替换输出目标，测试中用于静音
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// L 返回底层 logrus 实例
func L() *logrus.Logger {
	return std
}

func WithField(key string, value any) *logrus.Entry {
	return std.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return std.WithFields(fields)
}

func WithError(err error) *logrus.Entry {
	return std.WithError(err)
}

func Debugf(format string, args ...any) { std.Debugf(format, args...) }
func Infof(format string, args ...any)  { std.Infof(format, args...) }
func Warnf(format string, args ...any)  { std.Warnf(format, args...) }
func Errorf(format string, args ...any) { std.Errorf(format, args...) }
func Fatalf(format string, args ...any) { std.Fatalf(format, args...) }
