package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/iamwavecut/ngguard/internal/event"
)

const (
	auditMaxSizeMB  = 50
	auditMaxBackups = 10
	auditMaxAgeDays = 90
)

// Auditor writes one JSON line per moderation, admission or captcha event.
type Auditor struct {
	logger *zap.Logger
	closer *lumberjack.Logger
}

func NewAuditor(path string) *Auditor {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    auditMaxSizeMB,
		MaxBackups: auditMaxBackups,
		MaxAge:     auditMaxAgeDays,
		Compress:   true,
	}
	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "msg",
		LevelKey:       "",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	core := zapcore.NewCore(encoder, zapcore.AddSync(lj), zap.InfoLevel)
	return &Auditor{logger: zap.New(core), closer: lj}
}

// Record is an event bus subscriber.
func (a *Auditor) Record(_ context.Context, e event.Event) {
	if a == nil {
		return
	}
	switch ev := e.(type) {
	case event.ModerationEvent:
		fields := []zap.Field{
			zap.Time("at", ev.At),
			zap.Int64("chat_id", ev.ChatID),
			zap.String("chat_title", ev.ChatTitle),
			zap.Int64("actor_id", ev.ActorID),
			zap.String("actor", ev.ActorName),
			zap.Int64("target_id", ev.TargetID),
			zap.String("target", ev.TargetName),
			zap.String("action", ev.Action),
			zap.String("result", ev.Result),
			zap.Bool("undo", ev.Undo),
		}
		if ev.Reason != "" {
			fields = append(fields, zap.String("reason", ev.Reason))
		}
		if !ev.Until.IsZero() {
			fields = append(fields, zap.Time("until", ev.Until))
		}
		a.logger.Info(event.TypeModeration, fields...)
	case event.AdmissionEvent:
		a.logger.Info(event.TypeAdmission,
			zap.Time("at", ev.At),
			zap.Int64("chat_id", ev.ChatID),
			zap.Int64("user_id", ev.UserID),
			zap.String("user", ev.UserName),
			zap.String("decision", ev.Decision),
			zap.String("detail", ev.Detail),
		)
	case event.CaptchaEvent:
		a.logger.Info(event.TypeCaptcha,
			zap.Time("at", ev.At),
			zap.Int64("chat_id", ev.ChatID),
			zap.Int64("user_id", ev.UserID),
			zap.String("mode", ev.Mode),
			zap.String("outcome", ev.Outcome),
		)
	}
}

func (a *Auditor) Close() error {
	if a == nil {
		return nil
	}
	_ = a.logger.Sync()
	return a.closer.Close()
}
