package util

import (
	"encoding/base64"
	"mime"
	"net/http"
	"strings"
)

// SniffMimeHTTP recognises the two formats phones produce; everything else is opaque.
func SniffMimeHTTP(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return "image/jpeg"
	}
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return "image/png"
	}
	return "application/octet-stream"
}

func MakeDataURL(mime, b64 string) string {
	return "data:" + mime + ";base64," + b64
}

// DataURL renders raw bytes as a data: URI for <img src>.
func DataURL(mime string, data []byte) string {
	if strings.TrimSpace(mime) == "" {
		mime = SniffMimeHTTP(data)
	}
	return MakeDataURL(mime, base64.StdEncoding.EncodeToString(data))
}

// DecodeBase64MaybeDataURL decodes std or URL base64, returning the MIME of a data: prefix.
func DecodeBase64MaybeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var hintMIME string
	if strings.HasPrefix(s, "data:") {
		// data:<mime>;base64,<payload>
		if idx := strings.IndexByte(s, ','); idx > 0 {
			meta := s[len("data:"):idx]
			if semi := strings.IndexByte(meta, ';'); semi >= 0 {
				hintMIME = meta[:semi]
			} else {
				hintMIME = meta
			}
			s = s[idx+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, hintMIME, nil
	} else if b2, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return b2, hintMIME, nil
	} else {
		return nil, "", err
	}
}

// PickMIME returns an image/* type for data. Sniffed bytes win; a declared
// type or data:URI hint is only used when it parses as image/*.
func PickMIME(explicit, hint string, data []byte) string {
	if len(data) > 0 {
		if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
			return sniffed
		}
	}
	for _, cand := range []string{explicit, hint} {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(cand))
		if err == nil && strings.HasPrefix(mt, "image/") {
			return mt
		}
	}
	return "image/jpeg"
}
