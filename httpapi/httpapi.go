// Package httpapi is the thin HTTP transport: route handlers that
// translate requests into bucket.Controller calls and controller
// outcomes into status codes. The adapter carries no policy of its own.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelic/imageserver/bucket"
	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
	"github.com/kestrelic/imageserver/hooks"
	"github.com/kestrelic/imageserver/utils"
)

// Handler wires a bucket.Registry into a set of gin routes.
type Handler struct {
	registry       *bucket.Registry
	maxUploadBytes int64
	logger         core.Logger
}

// New builds a Handler. maxUploadBytes is the process-wide upload cap,
// checked before any bucket-specific cap.
func New(registry *bucket.Registry, maxUploadBytes int64, logger core.Logger) *Handler {
	if logger == nil {
		logger = hooks.NoopLogger{}
	}
	return &Handler{registry: registry, maxUploadBytes: maxUploadBytes, logger: logger}
}

// RegisterRoutes mounts the upload/fetch/delete routes under
// "/v1" + basePath (basePath defaults to "/images").
func (h *Handler) RegisterRoutes(r *gin.Engine, basePath string) {
	if basePath == "" {
		basePath = "/images"
	}
	group := r.Group("/v1" + basePath)
	{
		group.POST("/:bucket", h.upload)
		group.GET("/:bucket/:image_id", h.fetch)
		group.DELETE("/:bucket/:image_id", h.delete)
	}
}

type uploadResponse struct {
	ImageID        uuid.UUID      `json:"image_id"`
	BucketID       uint32         `json:"bucket_id"`
	Checksum       uint32         `json:"checksum"`
	ProcessingTime float64        `json:"processing_time"`
	Images         []variantEntry `json:"images"`
}

type variantEntry struct {
	SizingID uint32 `json:"sizing_id"`
}

func (h *Handler) upload(c *gin.Context) {
	ctl, ok := h.registry.ByName(c.Param("bucket"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	contentLength := c.Request.ContentLength
	if contentLength < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content-length is required"})
		return
	}
	uploadCap := h.maxUploadBytes
	if bucketCap := ctl.MaxUploadBytes(); bucketCap > 0 && (uploadCap <= 0 || bucketCap < uploadCap) {
		uploadCap = bucketCap
	}
	if uploadCap > 0 && contentLength > uploadCap {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}

	var body io.Reader = c.Request.Body
	if uploadCap > 0 {
		body = &utils.LimitedReader{R: c.Request.Body, Max: uploadCap}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if int64(len(data)) != contentLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ErrContentLengthMismatch.Error()})
		return
	}

	kind, ok := resolveSourceKind(c.Query("format"), data)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ErrUndetectableFormat.Error()})
		return
	}

	info, err := ctl.Upload(c.Request.Context(), kind, data)
	if err != nil {
		h.writeError(c, err)
		return
	}

	images := make([]variantEntry, 0, len(info.Variants))
	for _, v := range info.Variants {
		images = append(images, variantEntry{SizingID: uint32(v.SizingID)})
	}
	c.JSON(http.StatusOK, uploadResponse{
		ImageID:        info.ImageID,
		BucketID:       uint32(info.BucketID),
		Checksum:       info.Checksum,
		ProcessingTime: info.ProcessingTime.Seconds(),
		Images:         images,
	})
}

func (h *Handler) fetch(c *gin.Context) {
	ctl, ok := h.registry.ByName(c.Param("bucket"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	imageID, err := uuid.Parse(c.Param("image_id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	req := bucket.FetchRequest{
		ImageID:    imageID,
		PresetName: c.Query("size"),
		Accept:     c.GetHeader("Accept"),
	}
	if k, ok := core.KindFromContentType(c.Query("format")); ok {
		req.Format = k
	}

	widthStr, heightStr := c.Query("width"), c.Query("height")
	if widthStr != "" || heightStr != "" {
		if widthStr == "" || heightStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ErrPartialDimensions.Error()})
			return
		}
		w, errW := strconv.Atoi(widthStr)
		hgt, errH := strconv.Atoi(heightStr)
		if errW != nil || errH != nil || w <= 0 || hgt <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ErrInvalidDimensions.Error()})
			return
		}
		req.HasCustom = true
		req.CustomWidth = w
		req.CustomHeight = hgt
	}

	entry, found, err := ctl.Fetch(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		c.Status(http.StatusNotFound)
		return
	}

	c.Data(http.StatusOK, entry.Kind.ContentType(), entry.Bytes)
}

func (h *Handler) delete(c *gin.Context) {
	ctl, ok := h.registry.ByName(c.Param("bucket"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	imageID, err := uuid.Parse(c.Param("image_id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	if err := ctl.Delete(c.Request.Context(), imageID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// resolveSourceKind picks the upload's kind from an explicit query
// param, falling back to content sniffing via utils.DetectFormat.
func resolveSourceKind(explicit string, data []byte) (core.Kind, bool) {
	if explicit != "" {
		return core.KindFromContentType(explicit)
	}
	return core.KindFromContentType(utils.DetectFormat(data))
}

func (h *Handler) writeError(c *gin.Context, err error) {
	category := apperrors.CategoryOf(err)
	switch category {
	case apperrors.CategoryDecode, apperrors.CategoryInput, apperrors.CategoryConfigInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperrors.CategoryNotFound:
		c.Status(http.StatusNotFound)
	case apperrors.CategoryLimitExceeded:
		c.Status(http.StatusServiceUnavailable)
		h.logger.Warn("request rejected", "path", c.FullPath(), "bucket", c.Param("bucket"), "category", string(category))
		return
	case apperrors.CategoryCancelled:
		// no response: the client already gave up.
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
	h.logger.Error("request failed", "path", c.FullPath(), "bucket", c.Param("bucket"), "category", string(category), "error", err.Error())
}
