package main

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlesng35/sectionlock/internal/app"
	iauth "github.com/charlesng35/sectionlock/internal/auth"
)

type tokenOptions struct {
	configPath string
	secret     string
	issuer     string
	userID     string
	username   string
	documents  []string
	ttl        time.Duration
}

func newTokenCmd() *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for development and testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := mintToken(opts)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Server configuration file to read the signing secret from")
	cmd.Flags().StringVar(&opts.secret, "secret", "", "Signing secret (overrides --config)")
	cmd.Flags().StringVar(&opts.issuer, "issuer", "", "Token issuer (defaults to the configured issuer)")
	cmd.Flags().StringVar(&opts.userID, "user", "", "User id carried by the token")
	cmd.Flags().StringVar(&opts.username, "name", "", "Display name carried by the token")
	cmd.Flags().StringSliceVar(&opts.documents, "doc", nil, "Restrict the token to these document ids")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func mintToken(opts *tokenOptions) (string, error) {
	jwtCfg := iauth.JWTConfig{
		Secret: strings.TrimSpace(opts.secret),
		Issuer: strings.TrimSpace(opts.issuer),
	}

	if jwtCfg.Secret == "" {
		var (
			cfg *app.Config
			err error
		)
		if opts.configPath != "" {
			cfg, err = app.LoadConfig(opts.configPath)
		} else {
			cfg, err = app.LoadConfig()
		}
		if err != nil {
			return "", err
		}
		jwtCfg.Secret = cfg.Auth.JWT.Secret
		if jwtCfg.Issuer == "" {
			jwtCfg.Issuer = cfg.Auth.JWT.Issuer
		}
	}
	if jwtCfg.Secret == "" {
		return "", errors.New("no signing secret: pass --secret or configure auth.jwt.secret")
	}

	svc, err := iauth.NewJWTService(jwtCfg)
	if err != nil {
		return "", err
	}
	return svc.GenerateAccessToken(iauth.AccessTokenInput{
		UserID:    opts.userID,
		Username:  opts.username,
		Documents: opts.documents,
		TTL:       opts.ttl,
	})
}

func init() {
	rootCmd.AddCommand(newTokenCmd())
}
