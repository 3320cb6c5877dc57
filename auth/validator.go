package auth

import (
	"chat-hub/errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// SignupRequest carries the fields validated at account creation.
// User ids are short lowercase handles; nicknames are what the room sees.
type SignupRequest struct {
	UserID   string `validate:"required,lowercase,alphanum,min=3,max=15"`
	Password string `validate:"required,min=6,max=72"`
	Nickname string `validate:"required,min=2,max=10"`
}

func ValidateSignup(req SignupRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidSignup, err)
	}
	return nil
}
