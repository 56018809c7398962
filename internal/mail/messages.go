package mail

import (
	"fmt"
	"time"
)

func NewVerificationCodeMessage(to string, code string, validFor time.Duration) *Message {
	return &Message{
		To:      []string{to},
		Subject: "Your verification code",
		Body: fmt.Sprintf(
			"Your verification code is %s. It expires in %d minutes.\n\nIf you did not request this code, you can ignore this message.",
			code, int(validFor.Minutes())),
	}
}

func NewAccountLockedMessage(to string, displayName string, until time.Time) *Message {
	return &Message{
		To:      []string{to},
		Subject: "Account temporarily locked",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour account has been temporarily locked after repeated failed sign-in attempts. You can try again after %s, or reset your password if you suspect someone else tried to access your account.",
			displayName, until.UTC().Format(time.RFC1123)),
	}
}
