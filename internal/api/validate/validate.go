package validate

import (
	"fmt"
	"regexp"
)

var emailRx = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Identity field limits follow the persisted column widths.
const (
	maxExternalIDLen = 100
	maxUsernameLen   = 255
	maxEmailLen      = 255
	maxTelegramLen   = 100
	maxAvatarURLLen  = 500
)

func NonEmpty(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func MaxLen(field string, v *string, limit int) error {
	if v == nil {
		return nil
	}
	if len(*v) > limit {
		return fmt.Errorf("%s exceeds %d characters", field, limit)
	}
	return nil
}

// Email checks format and length. Empty strings are rejected; callers pass
// nil for absent optional emails.
func Email(v string) error {
	if v == "" {
		return fmt.Errorf("email is required")
	}
	if len(v) > maxEmailLen || !emailRx.MatchString(v) {
		return fmt.Errorf("invalid email")
	}
	return nil
}

// -------- Request specific helpers ----------

// CreatePerson validates input for explicitly registering a person.
// ExternalID and username are mandatory; identity extras are optional.
func CreatePerson(externalID, username string, email, telegramID, avatarURL *string) error {
	if err := NonEmpty("externalId", externalID); err != nil {
		return err
	}
	if len(externalID) > maxExternalIDLen {
		return fmt.Errorf("externalId exceeds %d characters", maxExternalIDLen)
	}
	if err := NonEmpty("username", username); err != nil {
		return err
	}
	if len(username) > maxUsernameLen {
		return fmt.Errorf("username exceeds %d characters", maxUsernameLen)
	}
	if email != nil {
		if err := Email(*email); err != nil {
			return err
		}
	}
	if err := MaxLen("telegramId", telegramID, maxTelegramLen); err != nil {
		return err
	}
	return MaxLen("avatarUrl", avatarURL, maxAvatarURLLen)
}

// UpdatePerson validates a partial update; nil fields are left unchanged and
// skip validation.
func UpdatePerson(username, avatarURL, email, telegramID *string) error {
	if username != nil {
		if err := NonEmpty("username", *username); err != nil {
			return err
		}
		if len(*username) > maxUsernameLen {
			return fmt.Errorf("username exceeds %d characters", maxUsernameLen)
		}
	}
	if email != nil && *email != "" {
		if err := Email(*email); err != nil {
			return err
		}
	}
	if err := MaxLen("telegramId", telegramID, maxTelegramLen); err != nil {
		return err
	}
	return MaxLen("avatarUrl", avatarURL, maxAvatarURLLen)
}
