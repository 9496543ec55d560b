package http

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

type liveConfigRequest struct {
	TimePerQuestion  int    `json:"timePerQuestion" validate:"gte=0,lte=3600"`
	ShowRanking      *bool  `json:"showRanking"`
	ShuffleQuestions bool   `json:"shuffleQuestions"`
	ShuffleOptions   bool   `json:"shuffleOptions"`
	Grading          string `json:"grading" validate:"omitempty,oneof=speed_accuracy accuracy_only"`
}

// toDomain applies request defaults; rankings are shown unless disabled.
func (r *liveConfigRequest) toDomain() domain.LiveConfig {
	if r == nil {
		return domain.LiveConfig{ShowRanking: true}
	}
	show := true
	if r.ShowRanking != nil {
		show = *r.ShowRanking
	}
	return domain.LiveConfig{
		TimePerQuestion:  r.TimePerQuestion,
		ShowRanking:      show,
		ShuffleQuestions: r.ShuffleQuestions,
		ShuffleOptions:   r.ShuffleOptions,
		Grading:          domain.Grading(r.Grading),
	}
}

type scheduledConfigRequest = domain.ScheduledConfig

type createSessionRequest struct {
	QuizID    string                  `json:"quizId" validate:"required"`
	OwnerID   string                  `json:"ownerId" validate:"required"`
	Mode      string                  `json:"mode" validate:"omitempty,oneof=live scheduled"`
	Access    string                  `json:"access" validate:"omitempty,oneof=public private"`
	Live      *liveConfigRequest      `json:"live"`
	Scheduled *scheduledConfigRequest `json:"scheduled"`
}

func (r createSessionRequest) toDomain() app.NewSession {
	req := app.NewSession{
		QuizID:  r.QuizID,
		OwnerID: r.OwnerID,
		Mode:    domain.Mode(r.Mode),
		Access:  domain.AccessMode(r.Access),
		Live:    r.Live.toDomain(),
	}
	if r.Scheduled != nil {
		req.Scheduled = *r.Scheduled
	}
	return req
}

type updateSessionRequest struct {
	Access    *string                 `json:"access" validate:"omitempty,oneof=public private"`
	Live      *liveConfigRequest      `json:"live"`
	Scheduled *scheduledConfigRequest `json:"scheduled"`
}

func (r updateSessionRequest) toDomain() app.SettingsUpdate {
	var update app.SettingsUpdate
	if r.Access != nil {
		access := domain.AccessMode(*r.Access)
		update.Access = &access
	}
	if r.Live != nil {
		live := r.Live.toDomain()
		update.Live = &live
	}
	update.Scheduled = r.Scheduled
	return update
}

type joinRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
	Name   string `json:"name" validate:"max=64"`
}

type answerRequest struct {
	UserID     string  `json:"userId" validate:"required"`
	QuestionID string  `json:"questionId" validate:"required"`
	Selected   []int   `json:"selected" validate:"max=64,dive,gte=0"`
	TimeSpent  float64 `json:"timeSpent" validate:"gte=0"`
}

// requestValidator wraps go-playground validator for request bodies.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

// Validate returns the failing fields keyed by their JSON name.
func (rv *requestValidator) Validate(i interface{}) (map[string]string, error) {
	err := rv.validate.Struct(i)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields, domain.Invalid("request body")
}
