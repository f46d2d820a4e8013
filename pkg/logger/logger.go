package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/db-monitor/pkg/config"
)

type Logger = zap.Logger

var (
	baseLogger     = zap.NewNop()
	loggerInitOnce sync.Once
	mu             sync.RWMutex
)

// InitLogger 初始化全局日志（只执行一次）：控制台彩色输出 + 按天切割的 JSON 文件
func InitLogger(cfg *config.ZapLogConfig) (*Logger, error) {
	var err error
	loggerInitOnce.Do(func() {
		var l *zap.Logger
		l, err = build(cfg)
		if err != nil {
			return
		}
		mu.Lock()
		baseLogger = l
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return GetLogger(), nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "dbg", "debug":
		return zapcore.DebugLevel
	case "war", "warn":
		return zapcore.WarnLevel
	case "err", "error":
		return zapcore.ErrorLevel
	case "pan", "panic":
		return zapcore.PanicLevel
	case "fat", "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func build(cfg *config.ZapLogConfig) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", cfg.Path, err)
	}

	maxAge := time.Duration(cfg.MaxAge) * 24 * time.Hour
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	rotationSize := int64(cfg.MaxSize) * 1024 * 1024
	if rotationSize <= 0 {
		rotationSize = 100 * 1024 * 1024
	}
	writer, err := rotatelogs.New(
		filepath.Join(cfg.Path, "monitor-%Y%m%d.log"),
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithRotationSize(rotationSize),
	)
	if err != nil {
		return nil, fmt.Errorf("open rotate log: %w", err)
	}

	// 控制台彩色时间
	consoleTime := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format("2006-01-02 15:04:05.000 -07:00")))
	}
	// JSON 日志纯文本时间
	jsonTime := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000 -07:00"))
	}

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.ConsoleSeparator = " "
	consoleEncoderCfg.EncodeLevel = coloredLevel
	consoleEncoderCfg.EncodeTime = consoleTime
	// Caller 两级路径
	consoleEncoderCfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
		enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
	}

	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.TimeKey = "timestamp"
	jsonCfg.EncodeTime = jsonTime
	jsonCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var stdoutEncoder zapcore.Encoder
	if cfg.Format == "json" {
		stdoutEncoder = zapcore.NewJSONEncoder(jsonCfg)
	} else {
		stdoutEncoder = zapcore.NewConsoleEncoder(consoleEncoderCfg)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(stdoutEncoder, zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(writer), level),
	)

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func coloredLevel(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var levelStr string
	switch level {
	case zapcore.DebugLevel:
		levelStr = "\033[36mDEBUG\033[0m"
	case zapcore.InfoLevel:
		levelStr = "\033[32mINFO \033[0m"
	case zapcore.WarnLevel:
		levelStr = "\033[33mWARN \033[0m"
	case zapcore.ErrorLevel:
		levelStr = "\033[31mERROR\033[0m"
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		levelStr = "\033[35m" + level.CapitalString() + "\033[0m"
	default:
		levelStr = "UNK  "
	}
	enc.AppendString(levelStr)
}

func getGID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))
	if len(idField) > 0 {
		if id, err := strconv.Atoi(idField[0]); err == nil {
			return strconv.Itoa(id)
		}
	}
	return "0"
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger
}

// With 返回带 component 字段的子日志
func With(component string) *zap.Logger {
	return current().With(zap.String("component", component))
}

func log(level zapcore.Level, msg string, fields ...zap.Field) {
	l := current().WithOptions(zap.AddCallerSkip(2))
	fields = append(fields, zap.String("goid", getGID()))
	if ce := l.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func Debug(msg string, fields ...zap.Field) { log(zap.DebugLevel, msg, fields...) }
func Info(msg string, fields ...zap.Field)  { log(zap.InfoLevel, msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { log(zap.WarnLevel, msg, fields...) }
func Error(msg string, fields ...zap.Field) { log(zap.ErrorLevel, msg, fields...) }
func Panic(msg string, fields ...zap.Field) { log(zap.PanicLevel, msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { log(zap.FatalLevel, msg, fields...) }

func Sync() error {
	return current().Sync()
}

// GetLogger 获取全局实例；未初始化时返回 Nop
func GetLogger() *zap.Logger {
	return current()
}
