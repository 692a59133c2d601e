package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"comentario/api"
	"comentario/comment"
	"comentario/common"
	"comentario/like"
	"comentario/store"
	"comentario/user"
)

func main() {
	cfg := common.LoadConfig()

	backend, err := openBackend(cfg)
	if err != nil {
		log.Fatal("Failed to open store backend: ", err)
	}
	st := store.New(backend)

	userModule := user.NewUserModule(st, cfg.AdminUsername)
	likeModule := like.NewLikeModule(st)
	commentModule := comment.NewCommentModule(st, likeModule, userModule)
	apiModule := api.NewApiModule(userModule, commentModule, likeModule)

	router := gin.Default()
	router.HandleMethodNotAllowed = true

	// static blog pages call from anywhere
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	apiModule.RegisterRoutes(router)

	log.Printf("Starting server on port %s...", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}

func openBackend(cfg common.Config) (store.Backend, error) {
	if cfg.FirebaseDatabaseURL != "" {
		log.Println("using firebase realtime database backend")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return store.OpenFirebase(ctx, cfg.FirebaseProjectID, cfg.FirebaseDatabaseURL, cfg.CredentialsFile)
	}
	log.Println("using local sqlite backend at", cfg.SqliteDB)
	return store.OpenLocal(cfg.SqliteDB)
}
