package comfyui

import "encoding/json"

type PromptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
}

type PromptResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
}

// Image is one entry of a node's "images" output list in /history.
type Image struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// QueueState lists the prompt ids ComfyUI reports as running and pending.
type QueueState struct {
	Running []string
	Pending []string
}

func (q QueueState) Contains(promptID string) bool {
	for _, id := range q.Running {
		if id == promptID {
			return true
		}
	}
	for _, id := range q.Pending {
		if id == promptID {
			return true
		}
	}
	return false
}
