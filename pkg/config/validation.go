package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Plugins) == 0 {
		return fmt.Errorf("plugins: at least one plugin must be configured")
	}

	// Aliases are path segments and must be unique
	aliases := make(map[string]bool)
	for i, p := range cfg.Plugins {
		if aliases[p.Alias] {
			return fmt.Errorf("plugins[%d]: duplicate plugin alias %q", i, p.Alias)
		}
		aliases[p.Alias] = true
	}

	if !aliases[cfg.Server.DefaultPlugin] {
		return fmt.Errorf("server.default_plugin: plugin %q is not configured", cfg.Server.DefaultPlugin)
	}

	if cfg.Server.RateLimit.Burst > 0 && cfg.Server.RateLimit.RequestsPerSecond == 0 {
		return fmt.Errorf("server.rate_limit: burst is set but requests_per_second is 0")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
