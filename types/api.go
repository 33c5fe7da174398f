package types

import "encoding/json"

// GenerateRequest is the body of POST /api/generate. Numeric fields are kept raw
// because the UI sends them as numbers or as form strings.
type GenerateRequest struct {
	Prompt         string          `json:"prompt"`
	NegativePrompt string          `json:"negativePrompt"`
	Width          json.RawMessage `json:"width"`
	Height         json.RawMessage `json:"height"`
	Steps          json.RawMessage `json:"steps"`
	Cfg            json.RawMessage `json:"cfg"`
	Seed           json.RawMessage `json:"seed"`
	// ClientID routes progress events to an open /ws/:id connection.
	ClientID string `json:"clientId,omitempty"`
}

type GenerateResponse struct {
	Success   bool   `json:"success"`
	ImageUrl  string `json:"imageUrl"`
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Seed      int64  `json:"seed"`
	PromptId  string `json:"promptId"`
}

type AsyncGenerateResponse struct {
	JobID string `json:"jobId"`
}

type StatusResponse struct {
	Status string          `json:"status"`
	Queue  json.RawMessage `json:"queue,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

type HealthResponse struct {
	Status    int   `json:"status"`
	TimeStamp int64 `json:"timestamp"`
}
