package app

import (
	"os"
	"strings"

	"github.com/ordersight/ordersight-backend/internal/clients/gcp"
	"github.com/ordersight/ordersight-backend/internal/clients/openai"
	redisx "github.com/ordersight/ordersight-backend/internal/clients/redis"
	"github.com/ordersight/ordersight-backend/internal/clients/remote"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/progress"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// Clients holds every external dependency. Without REDIS_ADDR the event
// bus and duplicate guard fall back to in-process implementations, which
// is fine for a single-instance deployment.
type Clients struct {
	Bucket   gcp.BucketService
	Document gcp.Document
	AI       openai.Client
	Remote   remote.Client

	Bus      progress.Bus
	MemBus   *progress.MemoryBus
	EventBus redisx.EventBus
	Guard    workflow.DuplicateGuard
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		return Clients{}, err
	}
	document, err := gcp.NewDocument(log)
	if err != nil {
		return Clients{}, err
	}
	ai, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, err
	}
	remoteClient, err := remote.NewClient(log)
	if err != nil {
		return Clients{}, err
	}

	c := Clients{
		Bucket:   bucket,
		Document: document,
		AI:       ai,
		Remote:   remoteClient,
	}

	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		bus, err := redisx.NewEventBus(log)
		if err != nil {
			return Clients{}, err
		}
		guard, err := redisx.NewGuard(log)
		if err != nil {
			return Clients{}, err
		}
		c.Bus = bus
		c.EventBus = bus
		c.Guard = guard
	} else {
		log.Warn("REDIS_ADDR not set, using in-process event bus and guard")
		memBus := progress.NewMemoryBus()
		c.Bus = memBus
		c.MemBus = memBus
		c.Guard = workflow.NewMemoryGuard()
	}

	return c, nil
}

func (c Clients) Close() {
	if c.Bucket != nil {
		_ = c.Bucket.Close()
	}
	if c.Document != nil {
		_ = c.Document.Close()
	}
	if c.EventBus != nil {
		_ = c.EventBus.Close()
	}
	if g, ok := c.Guard.(*redisx.Guard); ok && g != nil {
		_ = g.Close()
	}
}
