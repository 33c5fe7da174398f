package orchestrator

import (
	"context"
	"io"
	"strings"

	"github.com/benford266/ComfyImageGen/utils"

	"github.com/charmbracelet/log"
)

const defaultArtifactType = "image/png"

// Artifact is an open image stream from ComfyUI. The caller closes Body.
type Artifact struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Filename      string
}

type Proxy struct {
	backend Backend
	log     *log.Logger
}

func NewProxy(backend Backend) *Proxy {
	return &Proxy{
		backend: backend,
		log:     log.With("component", "proxy"),
	}
}

// Fetch only follows urls under the ComfyUI base address, so the proxy cannot be
// pointed at arbitrary hosts.
func (p *Proxy) Fetch(ctx context.Context, rawURL string) (*Artifact, error) {
	if !p.Allowed(rawURL) {
		return nil, ErrInvalidReference
	}

	resp, err := p.backend.Open(ctx, rawURL)
	if err != nil {
		p.log.Error("image fetch failed", "url", rawURL, "err", err)
		return nil, backendError(ErrFetch, "fetch image", err)
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = defaultArtifactType
	}

	return &Artifact{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
		Filename:      utils.FileNameFromCd(resp.Header.Get("Content-Disposition")),
	}, nil
}

// Allowed reports whether rawURL sits under the base address. The base must be
// followed by a path, a query or nothing, so "http://host:8188.evil" is refused.
func (p *Proxy) Allowed(rawURL string) bool {
	base := p.backend.BaseURL()
	if base == "" || !strings.HasPrefix(rawURL, base) {
		return false
	}
	rest := rawURL[len(base):]
	return rest == "" || rest[0] == '/' || rest[0] == '?'
}
