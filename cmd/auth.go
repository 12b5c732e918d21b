package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/desertthunder/onair/internal/server"
	"github.com/desertthunder/onair/internal/services"
	"github.com/desertthunder/onair/internal/shared"
)

const authTimeout = 2 * time.Minute

// Auth performs the OAuth2 authorization code flow and saves the token to credentials.spotify.token_path.
//
// Starts a local HTTP server on the redirect URI's host, opens the browser for the user, and exchanges the
// returned code for tokens.
func (r *Runner) Auth(ctx context.Context, cmd *cli.Command) error {
	spotify, err := services.NewSpotifyService(services.NewSpotifyOptions(r.config))
	if err != nil {
		return fmt.Errorf("failed to create Spotify service: %w", err)
	}

	token, err := r.doOAuth(ctx, spotify, !cmd.Bool("no-browser"))
	if err != nil {
		return err
	}

	path := r.config.Credentials.Spotify.TokenPath
	if err := shared.SaveToken(path, token); err != nil {
		return err
	}

	spotify.Authenticate(token)
	if user, err := spotify.UserProfile(ctx); err != nil {
		r.logger.Warn("token saved but profile lookup failed", "error", err)
	} else {
		r.writePlainln("✓ Authorized as %s (%s)", user.DisplayName, user.ID)
	}

	r.writePlain("✓ Token saved to %s\n\n", path)
	r.writePlain("You can now run: onair doctor\n")
	return nil
}

// callbackAddr is the listen address for the redirect URI, falling back to the server config.
func (r *Runner) callbackAddr() string {
	redirect := r.config.Credentials.Spotify.RedirectURI
	if redirect == "" {
		redirect = services.DefaultRedirectURI
	}
	if u, err := url.Parse(redirect); err == nil && u.Host != "" {
		return u.Host
	}
	return r.config.Server.Addr()
}

func (r *Runner) doOAuth(ctx context.Context, spotify *services.SpotifyService, openBrowser bool) (*oauth2.Token, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := spotify.GetAuthURL(state)
	oauthHandler := server.NewOAuthHandler(spotify.Exchange, state)
	router := server.NewBasicRouter()
	router.Handler(oauthHandler)

	serverAddr := r.callbackAddr()
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth callback server at %v", serverAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	if openBrowser {
		r.writePlain("→ Opening browser for Spotify authorization...\n")
		if err := shared.OpenBrowser(authURL); err != nil {
			r.logger.Warnf("failed to open browser automatically %v", err)
			openBrowser = false
		}
	}
	if !openBrowser {
		r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(authTimeout)
	defer timeout.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after 2 minutes", shared.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}

	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}

	return result.Token, nil
}

// seedToken writes ONAIR_SPOTIFY_TOKEN_B64 to the token path when set, for hosts where
// the browser flow cannot run.
func (r *Runner) seedToken() error {
	encoded := os.Getenv("ONAIR_SPOTIFY_TOKEN_B64")
	if encoded == "" {
		return nil
	}

	token, err := shared.DecodeToken(encoded)
	if err != nil {
		return err
	}
	if err := shared.SaveToken(r.config.Credentials.Spotify.TokenPath, token); err != nil {
		return err
	}
	r.logger.Info("token seeded from environment", "path", r.config.Credentials.Spotify.TokenPath)
	return nil
}

// newCatalog builds the Spotify client and installs the saved token.
//
// A missing token is not an error: the client stays latched until reauth succeeds, so the engine can
// still start and queue detections.
func (r *Runner) newCatalog() (*services.SpotifyService, error) {
	path := r.config.Credentials.Spotify.TokenPath

	opts := services.NewSpotifyOptions(r.config)
	opts.OnToken = func(t *oauth2.Token) {
		if err := shared.SaveToken(path, t); err != nil {
			r.logger.Warn("failed to persist refreshed token", "error", err)
		}
	}

	spotify, err := services.NewSpotifyService(opts)
	if err != nil {
		return nil, err
	}

	if err := r.seedToken(); err != nil {
		r.logger.Warn("ignoring ONAIR_SPOTIFY_TOKEN_B64", "error", err)
	}

	token, err := shared.LoadToken(path)
	if err != nil {
		r.logger.Warn("no usable token, run 'onair auth'", "error", err)
		return spotify, nil
	}
	spotify.Authenticate(token)
	return spotify, nil
}
