package config

import (
	"os"
	"strings"
)

// Environment variables handed to process-pool workers.
const (
	WorkerExecutorEnv    = "AURORA_WORKER_EXECUTOR"
	WorkerAuroraCmdEnv   = "AURORA_WORKER_AURORA_CMD"
	WorkerDockerImageEnv = "AURORA_WORKER_DOCKER_IMAGE"
	WorkerLogLevelEnv    = "AURORA_WORKER_LOG_LEVEL"
)

// WorkerConfig is the subset of the service config a worker process needs to
// build its own delegate.
type WorkerConfig struct {
	Executor    string
	AuroraCmd   string
	DockerImage string
	LogLevel    string
}

// WorkerEnv renders the delegate settings as environment entries for a worker process.
func (c *ServiceConfig) WorkerEnv() []string {
	return []string{
		WorkerExecutorEnv + "=" + c.Executor,
		WorkerAuroraCmdEnv + "=" + c.AuroraCmd,
		WorkerDockerImageEnv + "=" + c.DockerImage,
		WorkerLogLevelEnv + "=" + c.LogLevel,
	}
}

// LoadWorkerConfig reads the worker settings from the environment.
func LoadWorkerConfig() *WorkerConfig {
	d := Defaults()
	return &WorkerConfig{
		Executor:    GetEnv(WorkerExecutorEnv, d.Executor),
		AuroraCmd:   GetEnv(WorkerAuroraCmdEnv, d.AuroraCmd),
		DockerImage: GetEnv(WorkerDockerImageEnv, ""),
		LogLevel:    GetEnv(WorkerLogLevelEnv, d.LogLevel),
	}
}

// GetEnv returns the environment variable value or a default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetSecretFile reads a secret from a file path.
// Works with Docker secrets (/run/secrets/) and K8s secrets (mounted volumes).
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
