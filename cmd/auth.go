package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/murmur/internal/shared"
	"github.com/urfave/cli/v3"
)

// AuthToken stores the access token used for replay in the config file.
func (r *Runner) AuthToken(ctx context.Context, cmd *cli.Command) error {
	if err := r.saveToken(cmd.StringArg("token")); err != nil {
		return err
	}

	r.logger.Info("access token saved", "config", r.configPath)
	return r.writePlain("✓ Access token saved\n")
}

// AuthImport reads credentials from a saved cURL command and stores them in the config file.
func (r *Runner) AuthImport(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("file")
	if path == "" {
		return fmt.Errorf("%w: curl file", shared.ErrMissingArgument)
	}

	req, err := shared.ParseCurlFile(path)
	if err != nil {
		return err
	}
	token := req.AccessToken()
	if token == "" {
		return fmt.Errorf("%w: no signed-in bearer token in %s", shared.ErrInvalidInput, path)
	}

	if base := req.BaseURL(); base != "" {
		r.config.Backend.URL = base
	}
	if key := req.AnonKey(); key != "" {
		r.config.Backend.AnonKey = key
	}
	if err := r.saveToken(token); err != nil {
		return err
	}

	r.logger.Info("credentials imported", "backend", r.config.Backend.URL, "config", r.configPath)
	return r.writePlain("✓ Credentials for %s saved\n", r.config.Backend.URL)
}

// AuthStatus checks that the backend is reachable and that it accepts the configured credentials.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("checking auth status", "backend", r.config.Backend.URL)

	if err := r.backend().Health(ctx); err != nil {
		return fmt.Errorf("%w: backend unreachable: %v", shared.ErrServiceUnavailable, err)
	}

	resp, err := r.apiService().Get(ctx, "/auth/v1/user")
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		r.writePlain("✓ Backend reachable, signed in\n")
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		r.writePlain("✓ Backend reachable\n")
		r.writePlain("✗ Not signed in: run 'murmur auth token <token>' or set %s\n", shared.AccessTokenEnv)
		return shared.ErrNotAuthenticated
	default:
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, string(resp.Body))
	}
	return nil
}
