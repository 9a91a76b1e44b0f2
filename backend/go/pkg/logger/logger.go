package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger 是对 logrus 的封装，以提供更方便的结构化日志记录功能。
// 它按值传递，每次 With* 调用都返回新的实例，不会修改原有字段。
type Logger struct {
	entry *logrus.Entry
}

// Init 初始化全局的 logrus 配置。
// level: 日志级别字符串 (e.g. "debug", "info", "warn")，无法解析时回退到 info。
func Init(level string) {
	// 设置日志格式为 JSON，这对于后续的日志采集和分析至关重要。
	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(ParseLevel(level))
}

// ParseLevel 将配置中的日志级别转换为 logrus.Level。
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// New 创建一个新的 Logger 实例，并预设服务名字段。
func New(serviceName string) Logger {
	return Logger{
		entry: logrus.WithFields(logrus.Fields{
			"service_name": serviceName,
		}),
	}
}

// Discard 返回一个丢弃所有输出的 Logger，供测试使用。
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return Logger{entry: logrus.NewEntry(l)}
}

// WithComponent 标记产生日志的组件名称。
func (l Logger) WithComponent(name string) Logger {
	return l.WithField("component", name)
}

// WithTrace 将请求的 trace id 添加到日志条目中。
func (l Logger) WithTrace(traceID string) Logger {
	return l.WithField("trace_id", traceID)
}

// WithField 添加单个字段。
func (l Logger) WithField(key string, value interface{}) Logger {
	return Logger{entry: l.base().WithField(key, value)}
}

// WithFields 将自定义的业务数据添加到日志条目中。
func (l Logger) WithFields(fields map[string]interface{}) Logger {
	return Logger{entry: l.base().WithFields(logrus.Fields(fields))}
}

// WithError 将错误信息添加到日志条目中。
func (l Logger) WithError(err error) Logger {
	return Logger{entry: l.base().WithError(err)}
}

// Info 记录一条信息级别的日志。
func (l Logger) Info(message string) {
	l.base().Info(message)
}

// Warn 记录一条警告级别的日志。
func (l Logger) Warn(message string) {
	l.base().Warn(message)
}

// Error 记录一条错误级别的日志。
func (l Logger) Error(message string) {
	l.base().Error(message)
}

// Debug 记录一条调试级别的日志。
func (l Logger) Debug(message string) {
	l.base().Debug(message)
}

// Fatal 记录一条致命错误级别的日志，并终止程序。
func (l Logger) Fatal(message string) {
	l.base().Fatal(message)
}

// base 保证零值 Logger 也可以安全使用。
func (l Logger) base() *logrus.Entry {
	if l.entry == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return l.entry
}
