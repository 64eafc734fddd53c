package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orchestrator/internal/logger"
)

// ErrorHandler converts any AppError left on the gin context into a
// consistent JSON response, logging 5xx at error level and 4xx at warn.
func ErrorHandler() gin.HandlerFunc {
	log := logger.Component("http")
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last()

		if appErr, ok := err.Err.(*AppError); ok {
			if appErr.StatusCode >= 500 {
				log.Error().Str("code", appErr.Code).Str("details", appErr.Details).Msg(appErr.Message)
			} else {
				log.Warn().Str("code", appErr.Code).Msg(appErr.Message)
			}
			c.JSON(appErr.StatusCode, appErr.ToResponse())
			return
		}

		log.Error().Err(err.Err).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   CodeInternalServer,
			Message: "an unexpected error occurred",
			Code:    CodeInternalServer,
		})
	}
}

// Recovery recovers from panics inside a handler and renders them as a
// 500 instead of crashing the server.
func Recovery() gin.HandlerFunc {
	log := logger.Component("http")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("recovered from panic")
				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Error:   CodeInternalServer,
					Message: "an unexpected error occurred",
					Code:    CodeInternalServer,
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HandleError records err on the gin context and writes its response body,
// without aborting subsequent middleware.
func HandleError(c *gin.Context, err error) {
	if appErr, ok := err.(*AppError); ok {
		c.Error(appErr)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	internalErr := InternalServer(err.Error())
	c.Error(internalErr)
	c.JSON(internalErr.StatusCode, internalErr.ToResponse())
}

// AbortWithError records err and aborts the request immediately.
func AbortWithError(c *gin.Context, err *AppError) {
	c.Error(err)
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}
