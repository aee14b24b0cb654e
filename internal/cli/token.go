package cli

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

type tokenOptions struct {
	keyPath string
	secret  string
	subject string
	roles   []string
	dbUser  string
	claims  map[string]string
	expires time.Duration
}

// newTokenCommand mints a bearer token for the --token flag of compile and
// execute. Claims are read without verification there, so the signing key
// only matters to whatever else consumes the token.
func newTokenCommand() *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT carrying the given claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := mintToken(opts, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.keyPath, "key", "", "RSA private key (PEM) to sign with RS256; HS256 with --secret otherwise")
	cmd.Flags().StringVar(&opts.secret, "secret", "graphql-cypher-dev", "HMAC secret used without --key")
	cmd.Flags().StringVar(&opts.subject, "subject", "", "sub claim")
	cmd.Flags().StringSliceVar(&opts.roles, "roles", nil, "roles claim (comma-separated or repeated)")
	cmd.Flags().StringVar(&opts.dbUser, "db-user", "", "db_user claim used for impersonation")
	cmd.Flags().StringToStringVar(&opts.claims, "claim", nil, "extra string claims as key=value")
	cmd.Flags().DurationVar(&opts.expires, "expires", time.Hour, "token lifetime")

	return cmd
}

func mintToken(opts *tokenOptions, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(opts.expires).Unix(),
	}
	for k, v := range opts.claims {
		claims[k] = v
	}
	if opts.subject != "" {
		claims["sub"] = opts.subject
	}
	if len(opts.roles) > 0 {
		roles := make([]string, 0, len(opts.roles))
		for _, r := range opts.roles {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		claims["roles"] = roles
	}
	if opts.dbUser != "" {
		claims["db_user"] = opts.dbUser
	}

	if opts.keyPath == "" {
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(opts.secret))
	}
	key, err := loadPrivateKey(opts.keyPath)
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key pem")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", parsed)
	}
	return rsaKey, nil
}
