package server

import (
	"io"

	"readaddicts/internal/media"

	"github.com/gofiber/fiber/v2"
)

// ImageDeleteResponse reports which public ids were removed.
type ImageDeleteResponse struct {
	Deleted    []string `json:"deleted"`
	NotDeleted []string `json:"notDeleted"`
}

// UploadImage handles POST /api/v1/images. The multipart "file" field is
// resized to fit the optional width/height form values.
func (s *Server) UploadImage(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "No file uploaded")
	}

	width, err := formInt(c, "width")
	if err != nil {
		return respondServiceError(c, err)
	}
	height, err := formInt(c, "height")
	if err != nil {
		return respondServiceError(c, err)
	}

	src, err := file.Open()
	if err != nil {
		return badRequest(c, "Unable to read uploaded file")
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(src)
	if err != nil {
		return badRequest(c, "Unable to read uploaded file")
	}

	uploaded, err := s.images.Upload(c.UserContext(), media.UploadInput{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Content:     content,
		Width:       width,
		Height:      height,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(uploaded)
}

// DeleteImages handles DELETE /api/v1/images with a {publicIds} body.
func (s *Server) DeleteImages(c *fiber.Ctx) error {
	var req struct {
		PublicIDs []string `json:"publicIds"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if len(req.PublicIDs) == 0 {
		return badRequest(c, "publicIds is required")
	}

	deleted, notDeleted := s.images.Destroy(c.UserContext(), req.PublicIDs)
	if deleted == nil {
		deleted = []string{}
	}
	if notDeleted == nil {
		notDeleted = []string{}
	}
	return c.JSON(ImageDeleteResponse{Deleted: deleted, NotDeleted: notDeleted})
}

func formInt(c *fiber.Ctx, key string) (int, error) {
	return queryIntValue(c.FormValue(key), key, 0)
}
