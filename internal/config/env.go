package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "LIFTOFF_CONFIG"
	EnvToken      = "LIFTOFF_TOKEN"
	EnvCustomerID = "LIFTOFF_CUSTOMER_ID"
	EnvAPIURL     = "LIFTOFF_API_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // LIFTOFF_CONFIG: override config file path
	Token      string // LIFTOFF_TOKEN: bearer token
	CustomerID string // LIFTOFF_CUSTOMER_ID
	APIURL     string // LIFTOFF_API_URL: service base URL
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Token:      os.Getenv(EnvToken),
		CustomerID: os.Getenv(EnvCustomerID),
		APIURL:     os.Getenv(EnvAPIURL),
	}
}
