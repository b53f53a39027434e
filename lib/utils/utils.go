package utils

import "os"

// CheckEnvFile reports whether a .env file exists in the working directory.
func CheckEnvFile() bool {
	info, err := os.Stat(".env")
	if err != nil {
		return false
	}
	return !info.IsDir()
}
