package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Level is a QR error correction level.
type Level string

const (
	LevelL Level = "L" // ~7% recovery
	LevelM Level = "M" // ~15%
	LevelQ Level = "Q" // ~25%
	LevelH Level = "H" // ~30%
)

// Accepted ranges and defaults for request parameters.
const (
	MinVersion = 1
	MaxVersion = 40

	MinEnhance = 0.1
	MaxEnhance = 10.0

	DefaultVersion = 1
	DefaultLevel   = LevelH
	DefaultEnhance = 1.0

	maxNameRunes = 50
)

// ParseLevel accepts L, M, Q or H in any case.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelL, LevelM, LevelQ, LevelH:
		return l, nil
	}
	return "", fmt.Errorf("%w: level must be one of: L, M, Q, H", ErrInvalidParameter)
}

// QRRequest holds the validated parameters of one generation request.
type QRRequest struct {
	Words      string
	Version    int
	Level      Level
	Colorized  bool
	Contrast   float64
	Brightness float64
}

// NewQRRequest returns a request for words with every other field at its default.
func NewQRRequest(words string) QRRequest {
	return QRRequest{
		Words:      words,
		Version:    DefaultVersion,
		Level:      DefaultLevel,
		Contrast:   DefaultEnhance,
		Brightness: DefaultEnhance,
	}
}

// Validate checks every field against its accepted range.
func (r QRRequest) Validate() error {
	if strings.TrimSpace(r.Words) == "" {
		return fmt.Errorf("%w: words is required", ErrInvalidParameter)
	}
	if r.Version < MinVersion || r.Version > MaxVersion {
		return fmt.Errorf("%w: version must be an integer between %d and %d", ErrInvalidParameter, MinVersion, MaxVersion)
	}
	if _, err := ParseLevel(string(r.Level)); err != nil {
		return err
	}
	if !inEnhanceRange(r.Contrast) {
		return fmt.Errorf("%w: contrast must be between %.1f and %.1f", ErrInvalidParameter, MinEnhance, MaxEnhance)
	}
	if !inEnhanceRange(r.Brightness) {
		return fmt.Errorf("%w: brightness must be between %.1f and %.1f", ErrInvalidParameter, MinEnhance, MaxEnhance)
	}
	return nil
}

// inEnhanceRange is false for NaN as well as out-of-range values.
func inEnhanceRange(f float64) bool {
	return f >= MinEnhance && f <= MaxEnhance
}

// SafeName derives a file name stem from the first 50 runes of words.
func (r QRRequest) SafeName() string {
	var b strings.Builder
	n := 0
	for _, c := range r.Words {
		if n == maxNameRunes {
			break
		}
		n++
		if c < 128 && (c == '-' || c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			b.WriteRune(c)
			continue
		}
		b.WriteByte('_')
	}
	if b.Len() == 0 {
		return "qrcode"
	}
	return b.String()
}

// supportedPictures lists accepted upload extensions. WebP is decoded and
// re-rendered like any still image.
var supportedPictures = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".webp": true,
}

// PictureExt returns the lower-cased extension of filename or
// ErrUnsupportedFileType.
func PictureExt(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedPictures[ext] {
		return "", fmt.Errorf("%w: %q, supported: JPG, PNG, BMP, GIF, WebP", ErrUnsupportedFileType, ext)
	}
	return ext, nil
}

// IsAnimated reports whether a picture with extension ext renders as GIF.
func IsAnimated(ext string) bool {
	return ext == ".gif"
}
