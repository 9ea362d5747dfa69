package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	appingest "github.com/erp/costalloc/internal/application/ingest"
	"github.com/erp/costalloc/internal/domain/ingest"
	"github.com/erp/costalloc/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BatchIngestor applies raw warehouse batches
type BatchIngestor interface {
	HandleBatch(ctx context.Context, r io.Reader, source string) (*ingest.BatchSummary, error)
}

// IngestHandler receives warehouse batches over HTTP
type IngestHandler struct {
	BaseHandler
	ingestor BatchIngestor
}

// NewIngestHandler creates a new IngestHandler
func NewIngestHandler(ingestor BatchIngestor, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		BaseHandler: BaseHandler{logger: logger},
		ingestor:    ingestor,
	}
}

// LoadData godoc
// @ID           loadData
// @Summary      Apply a warehouse batch
// @Description  Replaces every scope present in the batch. The batch applies entirely or not at all.
// @Tags         ingest
// @Accept       json
// @Produce      json
// @Success      200 {object} dto.Response{data=dto.LoadDataResponse}
// @Failure      400 {object} dto.Response
// @Failure      413 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Router       /load_data [post]
func (h *IngestHandler) LoadData(c *gin.Context) {
	summary, err := h.ingestor.HandleBatch(c.Request.Context(), c.Request.Body, appingest.SourceHTTP)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodePayloadTooLarge,
				fmt.Sprintf("Batch exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.HandleError(c, err)
		return
	}

	groups := summary.Groups
	if groups == nil {
		groups = []ingest.GroupSummary{}
	}
	h.Success(c, dto.LoadDataResponse{
		Status: "ok",
		Detail: fmt.Sprintf("Loaded %d rows in %d groups", summary.Rows, len(groups)),
		Items:  summary.Rows,
		Groups: groups,
	})
}
