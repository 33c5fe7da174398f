package comfyui

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benford266/ComfyImageGen/config"
	"github.com/benford266/ComfyImageGen/internal/clients/transport"

	"github.com/tidwall/gjson"
)

type Client struct {
	baseUrl    string
	httpClient *http.Client
	// streamClient has no overall timeout; image bodies are bounded by the
	// caller's context, only connecting and the response headers are timed.
	streamClient *http.Client
}

func NewClient(config config.ComfyConfig) *Client {
	timeout := config.RequestTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	stream := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		baseUrl:      strings.TrimRight(strings.TrimSpace(config.BaseUrl), "/"),
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{Transport: stream},
	}
}

func (c *Client) BaseURL() string {
	return c.baseUrl
}

// QueuePrompt submits a workflow graph to /prompt.
func (c *Client) QueuePrompt(ctx context.Context, graph []byte, clientID string) (PromptResponse, error) {
	body := PromptRequest{Prompt: graph, ClientID: clientID}
	return transport.Post[PromptRequest, PromptResponse](c.httpClient, ctx, c.baseUrl+"/prompt", body, nil)
}

func (c *Client) Queue(ctx context.Context) ([]byte, error) {
	return transport.GetRaw(c.httpClient, ctx, c.baseUrl+"/queue", nil)
}

func (c *Client) History(ctx context.Context, promptID string) ([]byte, error) {
	return transport.GetRaw(c.httpClient, ctx, c.baseUrl+"/history/"+url.PathEscape(promptID), nil)
}

// Open starts a GET on an absolute url and returns the live response. Reading
// the body is only limited by ctx.
func (c *Client) Open(ctx context.Context, rawURL string) (*http.Response, error) {
	return transport.Download(c.streamClient, ctx, rawURL, nil)
}

// ViewURL is where ComfyUI serves img.
func (c *Client) ViewURL(img Image) string {
	q := url.Values{}
	q.Set("filename", img.Filename)
	q.Set("subfolder", img.Subfolder)
	q.Set("type", img.Type)
	return c.baseUrl + "/view?" + q.Encode()
}

// ParseQueue reads the /queue document. Entries look like [number, prompt_id, graph, extra, outputs].
func ParseQueue(raw []byte) (QueueState, error) {
	if !gjson.ValidBytes(raw) {
		return QueueState{}, errors.New("queue: invalid json")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return QueueState{}, errors.New("queue: not an object")
	}

	var state QueueState
	for _, id := range doc.Get("queue_running.#.1").Array() {
		state.Running = append(state.Running, id.String())
	}
	for _, id := range doc.Get("queue_pending.#.1").Array() {
		state.Pending = append(state.Pending, id.String())
	}
	return state, nil
}

// FirstImage finds the first image the output node produced for promptID.
// ok is false while the history entry is missing or has no images yet.
func FirstImage(raw []byte, promptID, outputNode string) (img Image, ok bool, err error) {
	if !gjson.ValidBytes(raw) {
		return Image{}, false, errors.New("history: invalid json")
	}

	path := fmt.Sprintf("%s.outputs.%s.images.0", PathKey(promptID), PathKey(outputNode))
	first := gjson.GetBytes(raw, path)
	if !first.IsObject() {
		return Image{}, false, nil
	}

	return Image{
		Filename:  first.Get("filename").String(),
		Subfolder: first.Get("subfolder").String(),
		Type:      first.Get("type").String(),
	}, true, nil
}

// PathKey quotes gjson/sjson path metacharacters so a node or prompt id is matched literally.
func PathKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
