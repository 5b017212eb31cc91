package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotenv loads a .env file into the environment without overriding
// variables that are already set. A missing file is silently ignored.
func LoadDotenv(path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for key, value := range values {
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return nil
}
