package message

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/memohai/socialdesk/internal/channel"
)

const (
	// MaxTextLength is the longest operator text in runes.
	MaxTextLength = 2000
	// MaxTextURLs is the most links an operator text may carry.
	MaxTextURLs = 5
)

var (
	markupPattern = regexp.MustCompile(`(?i)<\s*/?\s*[a-z!][^>]*>|javascript:`)
	urlPattern    = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"]+|\bwww\.[^\s<>"]+`)

	validate  = newValidator()
	textRules = fmt.Sprintf("required,max=%d,nomarkup,maxurls=%d", MaxTextLength, MaxTextURLs)
)

type contactCard struct {
	Name   string   `validate:"required"`
	Phones []string `validate:"min=1,dive,required"`
}

type attachmentInput struct {
	Source    string `validate:"required"`
	MediaType string `validate:"required,oneof=image audio video document"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("nomarkup", func(fl validator.FieldLevel) bool {
		return !markupPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("maxurls", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(urlPattern.FindAllString(fl.Field().String(), -1)) <= limit
	})
	return v
}

// ValidateText checks operator-authored text: non-empty, at most
// MaxTextLength runes, no HTML or script markup and at most MaxTextURLs links.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if err := validate.Var(text, textRules); err != nil {
		return describe(err)
	}
	return nil
}

func validateContacts(contacts []channel.Contact) error {
	for i, c := range contacts {
		if err := validate.Struct(contactCard{Name: strings.TrimSpace(c.Name), Phones: c.Phones}); err != nil {
			return fmt.Errorf("contact %d: %w", i, describe(err))
		}
	}
	return nil
}

// resolveAttachment fills in the media type from the url when the platform
// did not declare one.
func resolveAttachment(kind channel.MessageKind, att *channel.Attachment) (channel.Attachment, error) {
	out := channel.Attachment{
		MediaRef:  strings.TrimSpace(att.MediaRef),
		MediaType: strings.TrimSpace(att.MediaType),
		URL:       strings.TrimSpace(att.URL),
	}
	if out.MediaType == "" && kind.IsMedia() {
		out.MediaType = kind.String()
	}
	if out.MediaType == "" && out.URL != "" {
		out.MediaType = channel.MediaTypeFromURL(out.URL)
	}
	source := out.URL
	if source == "" {
		source = out.MediaRef
	}
	if err := validate.Struct(attachmentInput{Source: source, MediaType: out.MediaType}); err != nil {
		return out, fmt.Errorf("attachment: %w", describe(err))
	}
	return out, nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	fe := verrs[0]
	var reason string
	switch fe.Tag() {
	case "required", "min":
		field := strings.ToLower(fe.Field())
		if field == "" {
			field = "text"
		}
		reason = field + " is required"
	case "max":
		reason = fmt.Sprintf("text exceeds %s characters", fe.Param())
	case "nomarkup":
		reason = "html or script content is not allowed"
	case "maxurls":
		reason = fmt.Sprintf("text contains more than %s links", fe.Param())
	case "oneof":
		reason = fmt.Sprintf("unsupported %s %q", strings.ToLower(fe.Field()), fe.Value())
	default:
		reason = fe.Error()
	}
	return fmt.Errorf("%w: %s", ErrInvalidContent, reason)
}
