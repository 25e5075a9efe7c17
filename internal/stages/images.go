package stages

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/ordersight/ordersight-backend/internal/clients/gcp"
	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

const maxImageBytes = 10 << 20

// ImagesStage mirrors supplier-hosted product images into our bucket and
// attaches them to the derived products. Image fetch failures degrade to a
// warning; a purchase order without pictures is still a purchase order.
type ImagesStage struct {
	orders   repos.PurchaseOrderRepo
	products repos.ProductRepo
	bucket   gcp.BucketService
	store    *workflow.ResultStore
	fetch    *http.Client
	log      *logger.Logger
}

func NewImagesStage(orders repos.PurchaseOrderRepo, products repos.ProductRepo, bucket gcp.BucketService, store *workflow.ResultStore, baseLog *logger.Logger) *ImagesStage {
	return &ImagesStage{
		orders:   orders,
		products: products,
		bucket:   bucket,
		store:    store,
		fetch:    &http.Client{Timeout: 30 * time.Second},
		log:      baseLog.With("stage", workflow.StageImages),
	}
}

func (s *ImagesStage) Run(ctx context.Context, run *types.WorkflowRun, _ *types.StageJob) (interface{}, error) {
	var extracted ExtractedOrder
	found, err := s.store.Get(ctx, nil, run.ID, workflow.StageExtract, &extracted)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, workflow.FatalError("images: extract stage has not written its result")
	}

	attached := 0
	failed := 0
	for _, line := range extracted.Lines {
		if line.SKU == "" || len(line.ImageURLs) == 0 {
			continue
		}
		product, err := s.products.GetBySKU(ctx, nil, run.TenantID, line.SKU)
		if err != nil {
			return nil, err
		}
		if product == nil {
			continue
		}
		for pos, url := range line.ImageURLs {
			key, err := s.mirror(ctx, run, product, url)
			if err != nil {
				s.log.Warn("image mirror failed",
					"run_id", run.ID.String(), "sku", line.SKU, "url", url, "error", err)
				failed++
				continue
			}
			if err := s.products.AttachImage(ctx, nil, &types.ProductImage{
				ProductID:  product.ID,
				StorageKey: key,
				SourceURL:  url,
				Position:   pos,
			}); err != nil {
				return nil, err
			}
			attached++
		}
	}

	s.log.Info("images attached",
		"run_id", run.ID.String(), "attached", attached, "failed", failed)
	return map[string]interface{}{
		"images_attached": attached,
		"images_failed":   failed,
	}, nil
}

// mirror downloads one image and stores it under a deterministic key, so a
// retried stage overwrites instead of duplicating.
func (s *ImagesStage) mirror(ctx context.Context, run *types.WorkflowRun, product *types.Product, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.fetch.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("image fetch status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image fetch returned no bytes")
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	key := imageKey(run.TenantID.String(), product.ID.String(), url)
	if err := s.bucket.Upload(ctx, key, bytes.NewReader(data), resp.Header.Get("Content-Type")); err != nil {
		return "", err
	}
	return key, nil
}

func imageKey(tenantID, productID, url string) string {
	ext := strings.ToLower(path.Ext(url))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
	default:
		ext = ".jpg"
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(url))
	return fmt.Sprintf("tenants/%s/products/%s/images/%x%s", tenantID, productID, h.Sum32(), ext)
}
