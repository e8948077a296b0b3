package runtime

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugEmitFunc receives debug output when a callback is installed with
// SetDebugEmit.
type DebugEmitFunc func(format string, args ...any)

// consoleDebug prints bare messages to w.
func consoleDebug(w io.Writer) *zap.Logger {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), zapcore.DebugLevel))
}

// emitCore forwards every entry to a DebugEmitFunc.
type emitCore struct {
	emit   DebugEmitFunc
	fields []zapcore.Field
}

func (c *emitCore) Enabled(zapcore.Level) bool { return true }

func (c *emitCore) With(fields []zapcore.Field) zapcore.Core {
	return &emitCore{emit: c.emit, fields: append(c.fields[:len(c.fields):len(c.fields)], fields...)}
}

func (c *emitCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(ent, c)
}

func (c *emitCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	all := append(c.fields[:len(c.fields):len(c.fields)], fields...)
	if len(all) == 0 {
		c.emit("%s", ent.Message)
		return nil
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range all {
		f.AddTo(enc)
	}
	c.emit("%s %v", ent.Message, enc.Fields)
	return nil
}

func (c *emitCore) Sync() error { return nil }

func callbackDebug(fn DebugEmitFunc) *zap.Logger {
	return zap.New(&emitCore{emit: fn})
}
