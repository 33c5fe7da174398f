package config

import (
	"strings"
	"time"
)

type Config struct {
	Api      ApiConfig      `yaml:"api"`
	Comfy    ComfyConfig    `yaml:"comfy"`
	Poll     PollConfig     `yaml:"poll"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Async    AsyncConfig    `yaml:"async"`
	Rpc      RpcConfig      `yaml:"rpc"`
	Log      LogConfig      `yaml:"log"`
}

type ApiConfig struct {
	Port           string `yaml:"port"`
	AllowedOrigins string `yaml:"allowedOrigins"`
	StaticDir      string `yaml:"staticDir"`
}

// ComfyConfig points at the ComfyUI instance that renders the images.
type ComfyConfig struct {
	BaseUrl          string `yaml:"baseUrl"`
	RequestTimeoutMs int    `yaml:"requestTimeoutMs"`
}

type PollConfig struct {
	MaxAttempts       int `yaml:"maxAttempts"`
	PendingIntervalMs int `yaml:"pendingIntervalMs"`
	ErrorIntervalMs   int `yaml:"errorIntervalMs"`
}

// WorkflowConfig locates the workflow template and the node ids that fill each role.
type WorkflowConfig struct {
	TemplatePath string `yaml:"templatePath"`
	PromptNode   string `yaml:"promptNode"`
	NegativeNode string `yaml:"negativeNode"`
	SizeNode     string `yaml:"sizeNode"`
	SamplerNode  string `yaml:"samplerNode"`
	OutputNode   string `yaml:"outputNode"`
}

type AsyncConfig struct {
	QueueSize     int `yaml:"queueSize"`
	MaxConcurrent int `yaml:"maxConcurrent"`
}

type RpcConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Port            string `yaml:"port"`
	ProbeIntervalMs int    `yaml:"probeIntervalMs"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Normalize fills every unset field with the service default.
func (c *Config) Normalize() {
	setString(&c.Api.Port, "3000")
	setString(&c.Api.AllowedOrigins, "*")
	setString(&c.Api.StaticDir, "./web")

	setString(&c.Comfy.BaseUrl, "http://127.0.0.1:8188")
	c.Comfy.BaseUrl = strings.TrimRight(strings.TrimSpace(c.Comfy.BaseUrl), "/")
	setInt(&c.Comfy.RequestTimeoutMs, 30_000)

	setInt(&c.Poll.MaxAttempts, 60)
	setInt(&c.Poll.PendingIntervalMs, 5_000)
	setInt(&c.Poll.ErrorIntervalMs, 2_000)

	setString(&c.Workflow.TemplatePath, "./ComfyUIImagegen.json")
	setString(&c.Workflow.PromptNode, "6")
	setString(&c.Workflow.NegativeNode, "7")
	setString(&c.Workflow.SizeNode, "5")
	setString(&c.Workflow.SamplerNode, "3")
	setString(&c.Workflow.OutputNode, "9")
	for _, id := range []*string{&c.Workflow.PromptNode, &c.Workflow.NegativeNode, &c.Workflow.SizeNode, &c.Workflow.SamplerNode, &c.Workflow.OutputNode} {
		*id = strings.TrimSpace(*id)
	}

	setInt(&c.Async.QueueSize, 32)
	setInt(&c.Async.MaxConcurrent, 4)

	setString(&c.Rpc.Port, "50051")
	setInt(&c.Rpc.ProbeIntervalMs, 15_000)

	setString(&c.Log.Level, "info")
}

func (p PollConfig) PendingInterval() time.Duration {
	return time.Duration(p.PendingIntervalMs) * time.Millisecond
}

func (p PollConfig) ErrorInterval() time.Duration {
	return time.Duration(p.ErrorIntervalMs) * time.Millisecond
}

func (c ComfyConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (r RpcConfig) ProbeInterval() time.Duration {
	return time.Duration(r.ProbeIntervalMs) * time.Millisecond
}

func setString(dst *string, fallback string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = fallback
	}
}

func setInt(dst *int, fallback int) {
	if *dst <= 0 {
		*dst = fallback
	}
}
