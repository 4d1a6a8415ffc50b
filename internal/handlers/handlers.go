package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/dermascan/internal/auth"
	"github.com/example/dermascan/internal/diagnosis"
	"github.com/example/dermascan/internal/repository"
	"github.com/example/dermascan/internal/usecase"
)

// MaxUploadSize is the largest image accepted by the prediction endpoint.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and part headers around the image.
const multipartOverhead = 1 << 20

// PredictionService is the use case surface served over HTTP.
type PredictionService interface {
	Predict(ctx context.Context, userID string, image []byte) (*repository.Prediction, error)
	GetPrediction(ctx context.Context, userID, id string) (*repository.Prediction, error)
	ListPredictions(ctx context.Context, userID string) ([]*repository.Prediction, error)
	GetStatsSummary(ctx context.Context, userID string) (*usecase.StatsSummary, error)
}

type medicineView struct {
	Name         string `json:"name"`
	GenericName  string `json:"generic_name"`
	DosageForm   string `json:"dosage_form"`
	Manufacturer string `json:"manufacturer"`
	Description  string `json:"description"`
	SideEffects  string `json:"side_effects"`
}

type predictionView struct {
	ID              string         `json:"id"`
	Label           string         `json:"predicted_label"`
	DisplayName     string         `json:"display_name"`
	Confidence      float64        `json:"confidence_score"`
	Description     string         `json:"description"`
	Symptoms        string         `json:"symptoms"`
	Recommendations string         `json:"recommendations"`
	ImagePath       string         `json:"image_path"`
	Medicines       []medicineView `json:"medicines"`
	CreatedAt       time.Time      `json:"created_at"`
}

func toView(p *repository.Prediction) predictionView {
	label := diagnosis.Label(p.Label)
	view := predictionView{
		ID:              p.ID,
		Label:           p.Label,
		DisplayName:     label.DisplayName(),
		Confidence:      p.Confidence,
		Description:     diagnosis.Describe(label).Description,
		Symptoms:        p.Symptoms,
		Recommendations: p.Recommendations,
		ImagePath:       p.ImagePath,
		Medicines:       make([]medicineView, 0, len(p.Medicines)),
		CreatedAt:       p.CreatedAt,
	}
	for _, m := range p.Medicines {
		view.Medicines = append(view.Medicines, medicineView{
			Name:         m.Name,
			GenericName:  m.GenericName,
			DosageForm:   m.DosageForm,
			Manufacturer: m.Manufacturer,
			Description:  m.Description,
			SideEffects:  m.SideEffects,
		})
	}
	return view
}

// statusFor maps pipeline failures onto HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, repository.ErrNotFound) {
		return http.StatusNotFound
	}
	switch diagnosis.KindOf(err) {
	case diagnosis.KindDecode, diagnosis.KindInference:
		return http.StatusUnprocessableEntity
	case diagnosis.KindConfig:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal detail of server-side failures.
func publicMessage(err error) string {
	switch diagnosis.KindOf(err) {
	case diagnosis.KindDecode:
		return "image could not be decoded"
	case diagnosis.KindInference:
		return "image could not be classified"
	case diagnosis.KindConfig:
		return "classification model unavailable"
	default:
		return "prediction failed"
	}
}

func userFrom(c *gin.Context) (string, bool) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return userID, ok
}

// RegisterRoutes wires the HTTP handlers to the Gin router. metrics may be nil.
func RegisterRoutes(router *gin.Engine, svc PredictionService, authMiddleware gin.HandlerFunc, metrics http.Handler, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	protected := router.Group("/", authMiddleware)

	protected.POST("/predictions", func(c *gin.Context) {
		userID, ok := userFrom(c)
		if !ok {
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)
		file, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		if !strings.HasPrefix(strings.ToLower(file.Header.Get("Content-Type")), "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image content type required"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		record, err := svc.Predict(c.Request.Context(), userID, data)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				logger.Error("prediction failed", zap.String("user_id", userID), zap.Error(err))
			}
			c.JSON(status, gin.H{"error": publicMessage(err), "kind": diagnosis.KindOf(err).String()})
			return
		}

		c.JSON(http.StatusCreated, toView(record))
	})

	protected.GET("/predictions", func(c *gin.Context) {
		userID, ok := userFrom(c)
		if !ok {
			return
		}

		records, err := svc.ListPredictions(c.Request.Context(), userID)
		if err != nil {
			logger.Error("failed to list predictions", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list predictions"})
			return
		}

		views := make([]predictionView, 0, len(records))
		for _, r := range records {
			views = append(views, toView(r))
		}
		c.JSON(http.StatusOK, gin.H{"predictions": views})
	})

	protected.GET("/predictions/:id", func(c *gin.Context) {
		userID, ok := userFrom(c)
		if !ok {
			return
		}

		record, err := svc.GetPrediction(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "prediction not found"})
				return
			}
			logger.Error("failed to load prediction", zap.String("prediction_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load prediction"})
			return
		}

		c.JSON(http.StatusOK, toView(record))
	})

	protected.GET("/stats", func(c *gin.Context) {
		userID, ok := userFrom(c)
		if !ok {
			return
		}

		summary, err := svc.GetStatsSummary(c.Request.Context(), userID)
		if err != nil {
			logger.Error("failed to build statistics", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build statistics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}
