package main

import (
	"CheckInGuard/internal/repository"
	"CheckInGuard/pkg/logger"
)

func main() {
	logger.Init()
	defer logger.Sync()

	repository.RunGenerate()
}
