package usecase

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/sad1droid/kiro-openai-gateway/internal/credentials"
	"github.com/sad1droid/kiro-openai-gateway/internal/driver"
	"github.com/sad1droid/kiro-openai-gateway/internal/modelinfo"
	"github.com/sad1droid/kiro-openai-gateway/internal/openaiapi"
)

// ModelsUseCase serves GET /v1/models from the model-info cache (C4),
// refilling it from the upstream ListAvailableModels endpoint on a
// miss or staleness (spec §4.4).
type ModelsUseCase struct {
	driver *driver.Driver
	creds  *credentials.Manager
	cache  *modelinfo.Cache
	logger *zap.Logger
}

// NewModelsUseCase builds the use-case around its collaborators.
func NewModelsUseCase(d *driver.Driver, creds *credentials.Manager, cache *modelinfo.Cache, logger *zap.Logger) *ModelsUseCase {
	return &ModelsUseCase{driver: d, creds: creds, cache: cache, logger: logger}
}

// List returns the current model catalog, triggering a coalesced
// refill first if the cache is empty or stale.
func (uc *ModelsUseCase) List(ctx context.Context) []openaiapi.ModelObject {
	uc.cache.EnsureFresh(ctx, uc.refill)

	ids := uc.cache.AllIDs()
	now := time.Now().Unix()
	out := make([]openaiapi.ModelObject, 0, len(ids))
	for _, id := range ids {
		out = append(out, openaiapi.ModelObject{
			ID:      id,
			Object:  "model",
			Created: now,
			OwnedBy: "kiro",
		})
	}
	return out
}

// listAvailableModelsResponse is the upstream ListAvailableModels
// response shape. Exact bit-level framing is under-documented (spec §9
// notes this applies to the event-stream; the listing endpoint's JSON
// shape is likewise inferred rather than captured from traffic), so
// this models the minimal fields C4 needs and tolerates any extra ones.
type listAvailableModelsResponse struct {
	Models []struct {
		ModelID            string  `json:"modelId"`
		MaxInputTokens     int     `json:"maxInputTokens"`
		DefaultCreditsUsed float64 `json:"defaultCreditsUsed"`
	} `json:"models"`
}

func (uc *ModelsUseCase) refill(ctx context.Context) ([]modelinfo.Info, error) {
	url := "https://" + uc.creds.QHost() + "/ListAvailableModels"
	resp, err := uc.driver.Do(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed listAvailableModelsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	out := make([]modelinfo.Info, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		out = append(out, modelinfo.Info{
			ID:                 m.ModelID,
			MaxInputTokens:     m.MaxInputTokens,
			DefaultCreditsUsed: m.DefaultCreditsUsed,
		})
	}
	return out, nil
}
