package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/murmur/internal/shared"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NormalizePostInput trims content and drops empty slices so validation sees what will be stored.
//
// Hashtags are derived from the content when the caller did not provide any.
func NormalizePostInput(in PostInput) PostInput {
	in.Content = strings.TrimSpace(in.Content)
	in.ReplyToID = strings.TrimSpace(in.ReplyToID)

	var media []string
	for _, u := range in.MediaURLs {
		if u = strings.TrimSpace(u); u != "" {
			media = append(media, u)
		}
	}
	in.MediaURLs = media

	var tags []string
	for _, tag := range in.Hashtags {
		if tag = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#")); tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		tags = ExtractHashtags(in.Content)
	}
	in.Hashtags = tags
	return in
}

// ValidatePostInput checks the fields of a new post, returning an error wrapping [shared.ErrInvalidInput].
func ValidatePostInput(in PostInput) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %s", shared.ErrInvalidInput, describe(err))
	}
	return nil
}

// ValidatePayload checks a queue payload, returning an error wrapping [shared.ErrInvalidInput].
func ValidatePayload(p Payload) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", shared.ErrInvalidInput, describe(err))
	}
	if len(p.Args) > 0 && !jsonObjectOrArray(p.Args) {
		return fmt.Errorf("%w: payload args must be a JSON object or array", shared.ErrInvalidInput)
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func jsonObjectOrArray(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '{', '[':
		return validate.Var(trimmed, "json") == nil
	default:
		return false
	}
}
