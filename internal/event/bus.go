package event

import (
	"time"
)

const (
	TypeModeration = "moderation"
	TypeAdmission  = "admission"
	TypeCaptcha    = "captcha"
)

const (
	DecisionSkipped     = "skipped"
	DecisionLockdownBan = "lockdown_ban"
	DecisionCASAction   = "cas_action"
	DecisionChallenge   = "challenge"
	DecisionWelcome     = "welcome"
	DecisionAdmitted    = "admitted"

	OutcomeIssued      = "issued"
	OutcomePassed      = "passed"
	OutcomeWrongAnswer = "wrong_answer"
	OutcomeKicked      = "expired_kicked"
	OutcomeMuted       = "expired_muted"

	ResultOK      = "ok"
	ResultDenied  = "denied"
	ResultFailed  = "failed"
	ResultPartial = "partial"
)

type (
	Event interface {
		Type() string
		OccurredAt() time.Time
	}

	Base struct {
		At time.Time
	}

	ModerationEvent struct {
		Base
		ChatID     int64
		ChatTitle  string
		ActorID    int64
		ActorName  string
		TargetID   int64
		TargetName string
		Action     string
		Reason     string
		Until      time.Time
		Result     string
		Undo       bool
	}

	AdmissionEvent struct {
		Base
		ChatID   int64
		UserID   int64
		UserName string
		Decision string
		Detail   string
	}

	CaptchaEvent struct {
		Base
		ChatID  int64
		UserID  int64
		Mode    string
		Outcome string
	}
)

func Now() Base {
	return Base{At: time.Now()}
}

func (b Base) OccurredAt() time.Time {
	return b.At
}

func (ModerationEvent) Type() string { return TypeModeration }
func (AdmissionEvent) Type() string  { return TypeAdmission }
func (CaptchaEvent) Type() string    { return TypeCaptcha }
