package middleware

import (
	"context"
	"flag"
	"net/http"
	"net/url"
	"os"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"

	"github.com/tasknet-io/tasknet/pkg/logger"
)

// CustomClaims contains custom data we want from the token.
type CustomClaims struct {
	Scope string `json:"scope"`
}

// Validate does nothing for this example, but we need
// it to satisfy validator.CustomClaims interface.
func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

var (
	disableTokenValidation = flag.Bool("disable-token-validation", false, "Disables token validation, all requests will be allowed")
	authDomain             = flag.String("auth-domain", "", "The domain used for validating jwt tokens")
	authAudience           = flag.String("auth-audience", "", "The audience used for validating jwt tokens")
)

// EnsureValidToken is a middleware that will check the validity of our JWT.
func EnsureValidToken() func(next http.Handler) http.Handler {

	disableValidation := *disableTokenValidation || (os.Getenv("DISABLE_VALIDATION") == "true")

	if disableValidation {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	domain := *authDomain
	if domain == "" {
		domain = os.Getenv("AUTH0_DOMAIN")
	}
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		logger.Fatalf("Failed to parse the issuer url: %v", err)
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	audience := *authAudience
	if audience == "" {
		audience = os.Getenv("AUTH0_AUDIENCE")
	}
	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
		validator.WithCustomClaims(
			func() validator.CustomClaims {
				return &CustomClaims{}
			},
		),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		logger.Fatalf("Failed to set up the jwt validator")
	}

	errorHandler := func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Errorf("Encountered error while validating JWT: %v", err)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Failed to validate JWT."}`))
	}

	middleware := jwtmiddleware.New(
		jwtValidator.ValidateToken,
		jwtmiddleware.WithErrorHandler(errorHandler),
	)

	return func(next http.Handler) http.Handler {
		return middleware.CheckJWT(next)
	}
}
