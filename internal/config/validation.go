package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a fully-defaulted Config against its struct tags (see
// the `validate:"..."` tags throughout this package) plus the
// cross-field rules below that validator tags can't express on their own.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.API.IsEnabled() && cfg.Auth.OperatorSecret == "" {
		return fmt.Errorf("auth.operator_secret is required when the API server is enabled")
	}

	if cfg.Artifact.Backend == "fs" && cfg.Artifact.FS.BasePath == "" {
		return fmt.Errorf("artifact.fs.base_path is required when artifact.backend is \"fs\"")
	}

	if cfg.Artifact.Backend == "s3" && cfg.Artifact.S3.Bucket == "" {
		return fmt.Errorf("artifact.s3.bucket is required when artifact.backend is \"s3\"")
	}

	if cfg.LLM.Provider != "" && cfg.LLM.EncryptedAPIKey == "" {
		return fmt.Errorf("llm.encrypted_api_key is required when llm.provider is set")
	}

	return nil
}
