package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus the cross-field
// rules that tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	switch cfg.Storage.Type {
	case "local":
		if cfg.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local: base_dir is required")
		}
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3: bucket is required")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3: region is required")
		}
	}

	if cfg.Auth.Mode == "oidc" {
		if cfg.Auth.Issuer == "" {
			return fmt.Errorf("auth: issuer is required when mode is oidc")
		}
		if cfg.Auth.ClientID == "" {
			return fmt.Errorf("auth: client_id is required when mode is oidc")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
