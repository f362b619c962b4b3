package store

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"edusync/pkg/notifier"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report JSON field names instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		return notifier.Priority(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("notification_type", func(fl validator.FieldLevel) bool {
		return notifier.Type(fl.Field().String()).Valid()
	})
	return v
}

func validateInput(in *CreateInput) error {
	in.RecipientID = strings.TrimSpace(in.RecipientID)

	if err := validate.Struct(in); err != nil {
		return fieldError(err)
	}

	data, err := normalizeData(in.Data)
	if err != nil {
		return &notifier.InvalidNotificationError{Field: "data", Reason: "must be JSON-encodable"}
	}
	in.Data = data

	if in.Type == notifier.TypeIntelligentAlert {
		return validateAlertData(in)
	}
	return nil
}

func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &notifier.InvalidNotificationError{Field: "input", Reason: err.Error()}
	}

	fe := verrs[0]
	reason := "is invalid"
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "priority":
		reason = "must be one of urgent, high, medium, low"
	case "notification_type":
		reason = "is not a known notification type"
	case "max":
		reason = "exceeds " + fe.Param() + " characters"
	}
	return &notifier.InvalidNotificationError{Field: fe.Field(), Reason: reason}
}

// normalizeData rewrites data into its JSON form: nested objects become
// map[string]any, arrays []any, numbers float64. Stored payloads then hold no
// values shared with the producer.
func normalizeData(data map[string]any) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// validateAlertData checks that an intelligent alert carries a confidence in
// [0,100], at least one recommendation and at least one labelled action.
func validateAlertData(in *CreateInput) error {
	a, err := notifier.AlertFromNotification(notifier.Notification{
		RecipientID: in.RecipientID,
		Type:        in.Type,
		Data:        in.Data,
	})
	if err != nil {
		return &notifier.InvalidNotificationError{Field: "data", Reason: err.Error()}
	}
	conf, ok := in.Data["confidence"].(float64)
	if !ok || conf < 0 || conf > 100 {
		return &notifier.InvalidNotificationError{Field: "data.confidence", Reason: "must be a number between 0 and 100"}
	}
	if len(a.Recommendations) == 0 {
		return &notifier.InvalidNotificationError{Field: "data.recommendations", Reason: "must contain at least one recommendation"}
	}
	if len(a.Actions) == 0 {
		return &notifier.InvalidNotificationError{Field: "data.actions", Reason: "must contain at least one action"}
	}
	for _, act := range a.Actions {
		if act.Label == "" {
			return &notifier.InvalidNotificationError{Field: "data.actions", Reason: "every action needs a label"}
		}
	}
	return nil
}
