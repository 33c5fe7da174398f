package utils

import (
	"mime"
	"path"
	"strings"
)

// FileNameFromCd pulls a bare file name out of a Content-Disposition header.
func FileNameFromCd(cd string) string {
	if strings.TrimSpace(cd) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	fn := strings.TrimSpace(params["filename"])
	fn = strings.ReplaceAll(fn, "\\", "/")
	fn = path.Base(fn)
	if fn == "." || fn == "/" {
		return ""
	}
	return fn
}
