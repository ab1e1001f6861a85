// Package api provides HTTP handlers for the tile server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/slide-tiles/server/internal/service"
	"github.com/slide-tiles/server/internal/source"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *service.ImageService
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	svc := cfg.Service

	r.Route("/api", func(r chi.Router) {
		r.Get("/images", listImagesHandler(svc))
		r.Post("/images", openImageHandler(svc))
		r.Get("/images/{id}", imageInfoHandler(svc))
		r.Delete("/images/{id}", closeImageHandler(svc))
		r.Get("/stats", statsHandler(svc))
	})

	// Image-scoped routes: /i/{id}/...
	r.Route("/i/{id}", func(r chi.Router) {
		r.Get("/metadata", imageInfoHandler(svc))
		r.Get("/tiles/{level}/{x}/{y}.png", tileHandler(svc))
		// Associated image names may contain dots, so the pattern captures
		// the whole segment and the handler strips the extension.
		r.Get("/associated/{name}", associatedHandler(svc))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

// httpStatusFor maps service errors to response codes.
func httpStatusFor(err error) int {
	msg := err.Error()
	switch {
	case errors.Is(err, source.ErrUnsupportedContainer),
		errors.Is(err, source.ErrNoPrimaryImage):
		return http.StatusUnprocessableEntity
	case strings.Contains(msg, "no open image"):
		return http.StatusNotFound
	case strings.Contains(msg, "out of range"), strings.Contains(msg, "outside level"):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func listImagesHandler(svc *service.ImageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"images": svc.ListImages(),
		})
	}
}

type openImageRequest struct {
	Path string `json:"path"`
}

func openImageHandler(svc *service.ImageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Path) == "" {
			http.Error(w, "request body must be JSON with a non-empty \"path\"", http.StatusBadRequest)
			return
		}

		info, err := svc.OpenImage(strings.TrimSpace(req.Path))
		if err != nil {
			http.Error(w, err.Error(), httpStatusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func imageInfoHandler(svc *service.ImageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := svc.GetImage(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), httpStatusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func closeImageHandler(svc *service.ImageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CloseImage(chi.URLParam(r, "id")); err != nil {
			http.Error(w, err.Error(), httpStatusFor(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func statsHandler(svc *service.ImageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Stats())
	}
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func tileHandler(svc *service.ImageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		level, err1 := strconv.Atoi(chi.URLParam(r, "level"))
		tx, err2 := strconv.Atoi(chi.URLParam(r, "x"))
		ty, err3 := strconv.Atoi(chi.URLParam(r, "y"))
		if err1 != nil || err2 != nil || err3 != nil {
			http.Error(w, "tile coordinates must be integers", http.StatusBadRequest)
			return
		}

		z, err := queryInt(r, "z", 0)
		if err != nil {
			http.Error(w, "invalid z parameter", http.StatusBadRequest)
			return
		}
		t, err := queryInt(r, "t", 0)
		if err != nil {
			http.Error(w, "invalid t parameter", http.StatusBadRequest)
			return
		}
		colormapName := strings.TrimSpace(r.URL.Query().Get("colormap"))

		data, err := svc.GetTilePNG(id, level, tx, ty, z, t, colormapName)
		if err != nil {
			http.Error(w, err.Error(), httpStatusFor(err))
			return
		}
		writePNG(w, data)
	}
}

func associatedHandler(svc *service.ImageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		name := strings.TrimSuffix(chi.URLParam(r, "name"), ".png")
		if name == "" {
			http.Error(w, "missing associated image name", http.StatusBadRequest)
			return
		}

		maxSize, err := queryInt(r, "maxsize", 0)
		if err != nil || maxSize < 0 {
			http.Error(w, "invalid maxsize parameter", http.StatusBadRequest)
			return
		}

		data, err := svc.GetAssociatedPNG(id, name, maxSize)
		if err != nil {
			status := httpStatusFor(err)
			if strings.Contains(err.Error(), "no associated image") {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		writePNG(w, data)
	}
}
