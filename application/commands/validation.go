package commands

import (
	"github.com/go-playground/validator/v10"
)

// validate checks the struct tags on inbound command DTOs. One instance is
// shared; the validator caches struct metadata internally.
var validate = validator.New(validator.WithRequiredStructEnabled())
