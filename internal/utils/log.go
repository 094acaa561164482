// Package utils
package utils

import (
	"log"
	"os"
	"sync"
)

const logFile = "dexbook.log"

var (
	logger *log.Logger
	once   sync.Once
)

// GetLogger returns the shared file logger used for periodic status output.
// If the log file cannot be opened it falls back to stderr rather than
// aborting a running market session.
func GetLogger() *log.Logger {
	once.Do(func() {
		file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Printf("Logger | Falling back to stderr: %v", err)
			logger = log.New(os.Stderr, "dexbook | ", log.LstdFlags)
			return
		}
		logger = log.New(file, "dexbook | ", log.LstdFlags|log.Lmicroseconds)
	})
	return logger
}
