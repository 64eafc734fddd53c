package httpapi

import (
	"encoding/base64"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apierrors "orchestrator/internal/errors"
	"orchestrator/internal/model"
	"orchestrator/internal/remoteclient"
)

// listGames implements GET /api/games (§6): the Artifact Store's
// summary list, each entry carrying a quick-check of every reachable
// conversion target.
func (s *Server) listGames(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.List(c.Request.Context()))
}

// getGame implements GET /api/games/{id}.
func (s *Server) getGame(c *gin.Context) {
	a, ok := s.store.Get(c.Param("id"))
	if !ok {
		apierrors.AbortWithError(c, apierrors.NotFound("game"))
		return
	}
	c.JSON(http.StatusOK, a)
}

// getGameAs implements GET /api/games/{id}/as/{target_format}: 404 on an
// unknown artifact, 400 if no conversion path exists to target.
func (s *Server) getGameAs(c *gin.Context) {
	id := c.Param("id")
	target := c.Param("target")

	a, ok := s.store.Get(id)
	if !ok {
		apierrors.AbortWithError(c, apierrors.NotFound("game"))
		return
	}

	converted, ok, err := s.store.GetConverted(c.Request.Context(), id, target)
	if err != nil {
		apierrors.HandleError(c, err)
		return
	}
	if !ok {
		apierrors.AbortWithError(c, apierrors.NoConversionPath(a.FormatName, target))
		return
	}
	c.JSON(http.StatusOK, converted)
}

// deleteGame implements DELETE /api/games/{id}.
func (s *Server) deleteGame(c *gin.Context) {
	id := c.Param("id")
	if !s.store.Remove(id) {
		apierrors.AbortWithError(c, apierrors.NotFound("game"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

// uploadGame implements POST /api/games/upload (multipart): it rejects
// uploads strictly larger than the configured max, resolves the owning
// plugin for the file's extension, delegates parsing to that plugin's
// POST /parse/<ext> (§6), and stores the resulting artifact.
func (s *Server) uploadGame(c *gin.Context) {
	// The request body carries multipart framing around the file, so the
	// body limit leaves room for it; the exact max applies to the file's
	// own size, checked below.
	const multipartOverhead = 64 << 10
	bodyLimit := s.cfg.MaxUploadBytes + multipartOverhead
	if c.Request.ContentLength > bodyLimit {
		apierrors.AbortWithError(c, apierrors.BadRequest("upload exceeds maximum size"))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		apierrors.AbortWithError(c, apierrors.BadRequest("missing \"file\" field"))
		return
	}
	if fileHeader.Size > s.cfg.MaxUploadBytes {
		apierrors.AbortWithError(c, apierrors.BadRequest("upload exceeds maximum size"))
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(fileHeader.Filename), ".")
	if ext == "" {
		apierrors.AbortWithError(c, apierrors.InvalidFormat("file has no extension"))
		return
	}
	pluginURL, ok := s.registry.FormatPlugin(ext)
	if !ok {
		apierrors.AbortWithError(c, apierrors.InvalidFormat("no plugin registered for ."+ext))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		apierrors.AbortWithError(c, apierrors.BadRequest("could not read upload"))
		return
	}
	defer file.Close()

	buf, err := io.ReadAll(file)
	if err != nil {
		apierrors.AbortWithError(c, apierrors.BadRequest("could not read upload"))
		return
	}

	client := remoteclient.New(pluginURL, "plugin:parse:"+ext)
	body := remoteclient.JSON{
		"content":  base64.StdEncoding.EncodeToString(buf),
		"filename": fileHeader.Filename,
	}
	resp, err := client.POST(c.Request.Context(), "/parse/"+ext, body, s.cfg.RemoteParseTimeout)
	if err != nil {
		apierrors.HandleError(c, err)
		return
	}
	game, ok := resp["game"].(map[string]interface{})
	if !ok {
		apierrors.AbortWithError(c, apierrors.ParseFailed(nil))
		return
	}

	a := model.ArtifactFromWire(game)
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.FormatName == "" {
		apierrors.AbortWithError(c, apierrors.InvalidFormat("plugin returned a game with no format_name"))
		return
	}
	s.store.Add(a)
	c.JSON(http.StatusOK, a)
}
