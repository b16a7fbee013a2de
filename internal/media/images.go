// Package media stores uploaded images as JPEG and WebP renditions on local disk.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"readaddicts/internal/config"
	"readaddicts/internal/models"
	"readaddicts/internal/observability"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	DefaultUploadDir       = "uploads"
	DefaultPublicBaseURL   = "/uploads"
	DefaultMaxUploadSizeMB = 10
	MaxDimension           = 2048
	// MaxSourcePixels caps width*height of an upload before it is decoded.
	MaxSourcePixels = 40_000_000
	JPEGQuality            = 82
	WebPQuality            = 70
)

// UploadInput is one image upload. Width and Height bound the stored
// rendition; zero means MaxDimension.
type UploadInput struct {
	Filename    string
	ContentType string
	Content     []byte
	Width       int
	Height      int
}

// UploadResult identifies a stored image.
type UploadResult struct {
	URL      string `json:"url"`
	WebPURL  string `json:"webpUrl"`
	PublicID string `json:"publicId"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Store keeps images under dir and serves them from baseURL.
type Store struct {
	dir                string
	baseURL            string
	maxUploadSizeBytes int64
}

func NewStore(cfg *config.Config) *Store {
	dir := DefaultUploadDir
	baseURL := DefaultPublicBaseURL
	maxMB := DefaultMaxUploadSizeMB
	if cfg != nil {
		if cfg.ImageUploadDir != "" {
			dir = cfg.ImageUploadDir
		}
		if cfg.ImagePublicBaseURL != "" {
			baseURL = cfg.ImagePublicBaseURL
		}
		if cfg.ImageMaxUploadSizeMB > 0 {
			maxMB = cfg.ImageMaxUploadSizeMB
		}
	}
	return &Store{
		dir:                dir,
		baseURL:            strings.TrimRight(baseURL, "/"),
		maxUploadSizeBytes: int64(maxMB) * 1024 * 1024,
	}
}

// Dir is the directory files are written to.
func (s *Store) Dir() string { return s.dir }

// Upload decodes the image, shrinks it to fit the requested box and writes a
// JPEG and a WebP rendition named after a fresh public id.
func (s *Store) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if len(in.Content) == 0 {
		return nil, models.NewValidationError("No file uploaded")
	}
	if int64(len(in.Content)) > s.maxUploadSizeBytes {
		return nil, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxUploadSizeBytes/(1024*1024)))
	}
	if in.Width < 0 || in.Height < 0 {
		return nil, models.NewValidationError("Width and height must not be negative")
	}

	if !isAllowedImageMIME(http.DetectContentType(in.Content)) {
		return nil, models.NewValidationError("Invalid image type")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(in.Content))
	if err != nil {
		return nil, models.NewValidationError("Invalid image file")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, models.NewValidationError(fmt.Sprintf("Image dimensions too large (max %d pixels)", MaxSourcePixels))
	}
	decoded, format, err := image.Decode(bytes.NewReader(in.Content))
	if err != nil {
		return nil, models.NewValidationError("Invalid image file")
	}
	if provided := normalizeContentType(in.ContentType); strings.HasPrefix(provided, "image/") &&
		provided != decodedFormatToMime(format) && !(provided == "image/jpg" && format == "jpeg") {
		return nil, models.NewValidationError("Image content type mismatch")
	}

	out := resizeToFit(decoded, boxSide(in.Width), boxSide(in.Height))

	jpg, err := encodeJPEG(out)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	wp, err := encodeWebP(out)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	id := uuid.NewString()
	jpgPath, webpPath := s.paths(id)
	if err := writeFile(jpgPath, jpg); err != nil {
		return nil, models.NewInternalError(err)
	}
	if err := writeFile(webpPath, wp); err != nil {
		_ = os.Remove(jpgPath)
		return nil, models.NewInternalError(err)
	}

	b := out.Bounds()
	observability.GlobalLogger.InfoContext(ctx, "image stored",
		slog.String("public_id", id),
		slog.String("filename", in.Filename),
		slog.Int("width", b.Dx()),
		slog.Int("height", b.Dy()),
	)

	return &UploadResult{
		URL:      s.baseURL + "/" + id + ".jpg",
		WebPURL:  s.baseURL + "/" + id + ".webp",
		PublicID: id,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

// Destroy removes every rendition of each public id. Ids that are malformed
// or have nothing stored come back in notDeleted.
func (s *Store) Destroy(ctx context.Context, publicIDs []string) (deleted, notDeleted []string) {
	deleted = []string{}
	notDeleted = []string{}
	for _, id := range publicIDs {
		if _, err := uuid.Parse(id); err != nil {
			notDeleted = append(notDeleted, id)
			continue
		}
		jpgPath, webpPath := s.paths(id)
		err := os.Remove(jpgPath)
		_ = os.Remove(webpPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				observability.GlobalLogger.WarnContext(ctx, "failed to remove image",
					slog.String("public_id", id),
					slog.String("error", err.Error()),
				)
			}
			notDeleted = append(notDeleted, id)
			continue
		}
		deleted = append(deleted, id)
	}
	return deleted, notDeleted
}

func (s *Store) paths(id string) (string, string) {
	return filepath.Join(s.dir, id+".jpg"), filepath.Join(s.dir, id+".webp")
}

func boxSide(v int) int {
	if v <= 0 || v > MaxDimension {
		return MaxDimension
	}
	return v
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scale := float64(maxWidth) / float64(w)
	if s := float64(maxHeight) / float64(h); s < scale {
		scale = s
	}
	newW := max(int(float64(w)*scale), 1)
	newH := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: WebPQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAllowedImageMIME(contentType string) bool {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(mediaType)
}

func decodedFormatToMime(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return ""
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
