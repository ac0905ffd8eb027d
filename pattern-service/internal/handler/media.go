package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/patternvault/backend/shared/middleware"
	"github.com/patternvault/backend/shared/storage"
)

// MountMedia serves the local blob directory at the store's URL prefix.
func MountMedia(r gin.IRouter, store *storage.LocalStore) {
	r.Group("/", middleware.NoSniff()).Static(store.URLPrefix(), store.Root())
}
