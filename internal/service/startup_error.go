package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StartupErrorFile is the file WriteStartupErrorFile writes under its directory.
const StartupErrorFile = "startup-error.log"

// WriteStartupErrorFile records err in dir, replacing any earlier record.
func WriteStartupErrorFile(dir string, err error) error {
	if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
		return mkErr
	}

	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}
	content := fmt.Sprintf("[%s] %s startup error\n%s\n", time.Now().Format(time.RFC3339), Name, msg)
	return os.WriteFile(filepath.Join(dir, StartupErrorFile), []byte(content), 0644)
}
