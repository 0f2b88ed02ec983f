package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types

	"github.com/golang-jwt/jwt/v5"
)

// Config holds all runtime configuration values. It is constructed once at
// process start and passed by reference into the components that need it;
// nothing reads the environment after Load returns.
type Config struct {
	Env            string // application environment (e.g. "dev", "prod")
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // symmetric secret used to sign access tokens
	JWTAlgorithm   string // signing algorithm identifier (HS256, HS384, HS512)
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	GoogleClientID     string // OAuth client id issued by Google
	GoogleClientSecret string // OAuth client secret
	GoogleRedirectURL  string // callback URL registered with Google
}

// Load reads configuration values from environment variables and returns a
// Config. Required variables are enforced by must() and missing values cause
// the program to exit with a fatal log message. The signing secret and
// algorithm are validated here so a misconfigured process never starts
// serving requests.
func Load() Config {
	cfg := Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		JWTAlgorithm:   must("JWT_ALGORITHM"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),

		// Google credentials are optional: when unset the federated login
		// routes are simply not mounted.
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
	}
	if err := ValidateSigningAlgorithm(cfg.JWTAlgorithm); err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// ValidateSigningAlgorithm checks that the configured identifier names an
// HMAC signing method supported by the JWT library. Asymmetric methods are
// rejected: the codec is built around a shared symmetric secret.
func ValidateSigningAlgorithm(alg string) error {
	m := jwt.GetSigningMethod(alg)
	if m == nil {
		return &UnknownAlgorithmError{Alg: alg}
	}
	if _, ok := m.(*jwt.SigningMethodHMAC); !ok {
		return &UnknownAlgorithmError{Alg: alg}
	}
	return nil
}

// UnknownAlgorithmError reports a JWT_ALGORITHM value that is unset, unknown,
// or not an HMAC method.
type UnknownAlgorithmError struct{ Alg string }

func (e *UnknownAlgorithmError) Error() string {
	return "unsupported JWT signing algorithm: " + strconv.Quote(e.Alg)
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
