package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"qrservice/internal/config"
	"qrservice/internal/domain"
	"qrservice/internal/infra/cache"
	"qrservice/internal/infra/logging"
	"qrservice/internal/metrics"
	"qrservice/internal/render"
	"qrservice/internal/tempfs"
)

// Renderer produces a QR image file for a validated request.
type Renderer interface {
	Render(ctx context.Context, req render.Request) (*render.Result, error)
}

// QRService bundles configuration and dependencies for QR generation.
type QRService struct {
	Config   *config.Config
	Renderer Renderer
	Cache    *cache.QRCache
	Metrics  *metrics.Metrics

	wsMu  sync.Mutex
	ws    *tempfs.Workspace
	ownWS bool

	poolMu  sync.Mutex
	pool    *render.Pool
	poolErr error
}

// NewQRService creates a service rendering with the default engine. A nil
// workspace is created lazily below cfg.Render.TempDir on first use.
func NewQRService(cfg config.Config, ws *tempfs.Workspace, qc *cache.QRCache, m *metrics.Metrics) *QRService {
	return &QRService{
		Config:   &cfg,
		Renderer: render.NewEngine(render.OptionsFromConfig(cfg)),
		Cache:    qc,
		Metrics:  m,
		ws:       ws,
	}
}

func (svc *QRService) workspace() (*tempfs.Workspace, error) {
	svc.wsMu.Lock()
	defer svc.wsMu.Unlock()
	if svc.ws != nil {
		return svc.ws, nil
	}
	ws, err := tempfs.NewWorkspace(svc.Config.Render.TempDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	svc.ws, svc.ownWS = ws, true
	return ws, nil
}

func (svc *QRService) renderPool() (*render.Pool, error) {
	svc.poolMu.Lock()
	defer svc.poolMu.Unlock()

	if svc.Config.Render.Concurrency <= 0 {
		return nil, nil
	}
	if svc.pool != nil {
		return svc.pool, nil
	}
	if svc.poolErr != nil {
		return nil, svc.poolErr
	}
	pool, err := render.NewPool(svc.Config.Render.Concurrency)
	if err != nil {
		svc.poolErr = err
		return nil, err
	}
	svc.pool = pool
	return pool, nil
}

// Close stops the render pool and removes a workspace the service created itself.
func (svc *QRService) Close() error {
	svc.poolMu.Lock()
	if svc.pool != nil {
		svc.pool.Close()
	}
	svc.poolMu.Unlock()

	svc.wsMu.Lock()
	defer svc.wsMu.Unlock()
	if svc.ws != nil && svc.ownWS {
		return svc.ws.Close()
	}
	return nil
}

// HandleGenerate validates the form, renders the QR code and streams it back.
// The request's temp directory is removed before the handler returns.
func (svc *QRService) HandleGenerate(c *fiber.Ctx) error {
	req, err := parseQRRequest(c)
	if err != nil {
		return toFiberError(err)
	}

	picture, ext, err := svc.pictureUpload(c)
	if err != nil {
		return toFiberError(err)
	}

	ws, err := svc.workspace()
	if err != nil {
		return toFiberError(err)
	}
	sessionID := c.Get("X-Session-ID")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sessionID = tempfs.SanitizeSessionID(sessionID)

	sess, err := ws.Open(sessionID)
	if err != nil {
		return toFiberError(err)
	}
	svc.Metrics.SetActiveSessions(ws.Active())
	defer func() {
		if err := sess.Cleanup(); err != nil {
			logging.Warn("Failed to remove session directory", "dir", sess.Dir(), "error", err)
		}
		svc.Metrics.SetActiveSessions(ws.Active())
	}()

	rreq := render.Request{QRRequest: req, SaveDir: sess.Dir()}
	var pictureData []byte
	if picture != nil {
		path, err := savePicture(sess, picture, svc.Config.Limits.MaxUploadBytes)
		if err != nil {
			return toFiberError(err)
		}
		rreq.PicturePath = path
		if svc.Cache != nil {
			if pictureData, err = os.ReadFile(path); err != nil {
				return toFiberError(fmt.Errorf("%w: %v", domain.ErrInternal, err))
			}
		}
	}

	cacheKey := cache.Key(req, ext, pictureData)
	if entry := svc.cached(c.UserContext(), cacheKey); entry != nil {
		return sendQR(c, sessionID, entry.Name, entry.ContentType, entry.Version, entry.Level, entry.Data)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), svc.Config.RenderTimeout())
	defer cancel()

	res, err := svc.render(ctx, rreq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logging.Error("QR generation timeout", "timeout_secs", svc.Config.Render.TimeoutSecs, "session_id", sessionID)
		}
		return toFiberError(err)
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		return toFiberError(fmt.Errorf("%w: cannot read output: %v", domain.ErrInternal, err))
	}

	svc.Cache.Set(c.UserContext(), cacheKey, cache.Entry{
		ContentType: res.ContentType,
		Name:        res.Name,
		Version:     res.Version,
		Level:       res.Level,
		Data:        data,
	})

	logging.Info("QR generated", "mode", string(res.Mode), "name", res.Name, "version", res.Version,
		"frames", res.Frames, "session_id", sessionID, "request_id", c.GetRespHeader(fiber.HeaderXRequestID))
	return sendQR(c, sessionID, res.Name, res.ContentType, res.Version, res.Level, data)
}

func (svc *QRService) cached(ctx context.Context, key string) *cache.Entry {
	if svc.Cache == nil {
		return nil
	}
	entry, err := svc.Cache.Get(ctx, key)
	switch {
	case err != nil:
		svc.Metrics.CacheLookup("error")
		return nil
	case entry == nil:
		svc.Metrics.CacheLookup("miss")
		return nil
	}
	svc.Metrics.CacheLookup("hit")
	return entry
}

func (svc *QRService) render(ctx context.Context, req render.Request) (res *render.Result, err error) {
	pool, err := svc.renderPool()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if pool != nil {
		var slot *render.Slot
		if slot, err = pool.Acquire(ctx); err != nil {
			return nil, err
		}
		defer func() {
			logging.Debug("Render slot released", "held_ms", slot.Held().Milliseconds(), "error", err)
			pool.Release(slot, err)
		}()
	}

	start := time.Now()
	res, err = svc.Renderer.Render(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	svc.Metrics.ObserveRender(string(req.Mode()), outcome, time.Since(start))
	return res, err
}

// pictureUpload returns the uploaded picture, if any, and its extension.
func (svc *QRService) pictureUpload(c *fiber.Ctx) (*multipart.FileHeader, string, error) {
	fh, err := c.FormFile("picture")
	if err != nil || fh == nil || fh.Filename == "" {
		// Missing file and non-multipart bodies both mean "no picture".
		return nil, "", nil
	}
	if limit := svc.Config.Limits.MaxUploadBytes; fh.Size > limit {
		return nil, "", fmt.Errorf("%w: maximum size is %d bytes", domain.ErrPayloadTooLarge, limit)
	}
	ext, err := domain.PictureExt(fh.Filename)
	if err != nil {
		return nil, "", err
	}
	return fh, ext, nil
}

func savePicture(sess *tempfs.Session, fh *multipart.FileHeader, limit int64) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("%w: cannot open upload: %v", domain.ErrInternal, err)
	}
	defer f.Close()
	return sess.Save(fh.Filename, f, limit)
}

func sendQR(c *fiber.Ctx, sessionID, name, contentType string, version int, level domain.Level, data []byte) error {
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	c.Set("X-QR-Version", strconv.Itoa(version))
	c.Set("X-QR-Level", string(level))
	c.Set("X-Session-ID", sessionID)
	return c.Send(data)
}

// parseQRRequest reads the form fields on top of the request defaults.
func parseQRRequest(c *fiber.Ctx) (domain.QRRequest, error) {
	req := domain.NewQRRequest(c.FormValue("words"))

	if v := strings.TrimSpace(c.FormValue("version")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("%w: version must be an integer between %d and %d",
				domain.ErrInvalidParameter, domain.MinVersion, domain.MaxVersion)
		}
		req.Version = n
	}
	if v := c.FormValue("level"); v != "" {
		l, err := domain.ParseLevel(v)
		if err != nil {
			return req, err
		}
		req.Level = l
	}
	if v := c.FormValue("colorized"); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return req, err
		}
		req.Colorized = b
	}

	var err error
	if req.Contrast, err = parseEnhance(c.FormValue("contrast"), "contrast"); err != nil {
		return req, err
	}
	if req.Brightness, err = parseEnhance(c.FormValue("brightness"), "brightness"); err != nil {
		return req, err
	}
	return req, req.Validate()
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: colorized must be a boolean", domain.ErrInvalidParameter)
}

func parseEnhance(v, field string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return domain.DefaultEnhance, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number between %.1f and %.1f",
			domain.ErrInvalidParameter, field, domain.MinEnhance, domain.MaxEnhance)
	}
	return f, nil
}

// toFiberError maps domain errors to HTTP status codes.
func toFiberError(err error) error {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusRequestTimeout, "QR rendering took too long")
	case errors.Is(err, domain.ErrInvalidParameter):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPayloadTooLarge):
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, domain.ErrUnsupportedFileType):
		return fiber.NewError(fiber.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, render.ErrPoolClosed), errors.Is(err, tempfs.ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, "Service is shutting down")
	case errors.Is(err, domain.ErrRenderFailed):
		logging.Error("QR generation failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "QR generation failed: "+err.Error())
	}
	logging.Error("QR request failed", "error", err)
	return fiber.NewError(fiber.StatusInternalServerError, "Internal Server Error")
}
