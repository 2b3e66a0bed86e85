package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aoi-engine/internal/aoi"
	"github.com/sells-group/aoi-engine/internal/cache"
	"github.com/sells-group/aoi-engine/internal/evaluate"
	"github.com/sells-group/aoi-engine/internal/geometry"
	"github.com/sells-group/aoi-engine/pkg/platform"
)

// Summary levels reported by summarize_collection.
const (
	SummaryFull   = "full"
	SummaryCoarse = "coarse"
	SummaryCount  = "count"
)

const (
	defaultSummaryScale = 30.0
	coarseScaleFactor   = 10.0
)

func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return badArgs("invalid arguments: " + err.Error())
	}
	return nil
}

// decodeAOI turns a raw AOI argument into a value Normalize accepts.
func decodeAOI(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, badArgs("invalid aoi: " + err.Error())
	}
	return v, nil
}

type placeArgs struct {
	PlaceName string `json:"placeName"`
}

func (s *Server) resolvePlace(ctx context.Context, raw json.RawMessage) (any, error) {
	var args placeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.PlaceName) == "" {
		return nil, badArgs("placeName is required")
	}
	return s.deps.Resolver.Resolve(ctx, args.PlaceName)
}

type placeResult struct {
	PlaceName string             `json:"placeName"`
	Geometry  *geometry.Geometry `json:"geometry,omitempty"`
	Error     *errorBody         `json:"error,omitempty"`
}

func (s *Server) resolvePlaces(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		PlaceNames []string `json:"placeNames"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if len(args.PlaceNames) == 0 {
		return nil, badArgs("placeNames is required")
	}

	results := s.deps.Resolver.ResolveMany(ctx, args.PlaceNames)
	out := make([]placeResult, len(results))
	for i, r := range results {
		out[i] = placeResult{PlaceName: r.Name, Geometry: r.Geometry}
		if r.Err != nil {
			_, body := classify(r.Err)
			out[i].Error = &body
		}
	}
	return out, nil
}

type aoiArgs struct {
	AOI       json.RawMessage `json:"aoi"`
	Region    string          `json:"region"`
	PlaceName string          `json:"placeName"`
}

// normalize picks the first AOI form present: aoi, then region, then placeName.
func (s *Server) normalize(ctx context.Context, args aoiArgs) (*geometry.Geometry, error) {
	switch {
	case len(args.AOI) > 0 && string(args.AOI) != "null":
		v, err := decodeAOI(args.AOI)
		if err != nil {
			return nil, err
		}
		return s.deps.Normalizer.Normalize(ctx, v)
	case strings.TrimSpace(args.Region) != "":
		return s.deps.Normalizer.Normalize(ctx, args.Region)
	case strings.TrimSpace(args.PlaceName) != "":
		return s.deps.Normalizer.Normalize(ctx, aoi.Input{PlaceName: args.PlaceName})
	default:
		return nil, badArgs("one of aoi, region or placeName is required")
	}
}

func (s *Server) normalizeAOI(ctx context.Context, raw json.RawMessage) (any, error) {
	var args aoiArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.normalize(ctx, args)
}

type metricsResult struct {
	Type          string              `json:"type"`
	AreaKm2       float64             `json:"areaKm2"`
	PerimeterKm   float64             `json:"perimeterKm"`
	BoundingBox   geometry.BBox       `json:"boundingBox"`
	Centroid      geometry.Point      `json:"centroid"`
	SourceDataset string              `json:"sourceDataset"`
	AdminLevel    geometry.AdminLevel `json:"adminLevel"`
}

func (s *Server) aoiMetrics(ctx context.Context, raw json.RawMessage) (any, error) {
	var args aoiArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	g, err := s.normalize(ctx, args)
	if err != nil {
		return nil, err
	}
	return metricsResult{
		Type:          g.Type(),
		AreaKm2:       g.AreaKm2,
		PerimeterKm:   g.PerimeterKm,
		BoundingBox:   g.BoundingBox,
		Centroid:      g.Centroid,
		SourceDataset: g.SourceDataset,
		AdminLevel:    g.AdminLevel,
	}, nil
}

type evaluateArgs struct {
	ID        string          `json:"id,omitempty"`
	Operation string          `json:"operation"`
	Graph     json.RawMessage `json:"graph"`
	TimeoutMs int             `json:"timeoutMs"`
	Strict    bool            `json:"strict"`
}

func (a evaluateArgs) request() (evaluate.Request, evaluate.Options, error) {
	if a.Operation == "" {
		return evaluate.Request{}, evaluate.Options{}, badArgs("operation is required")
	}
	if len(a.Graph) == 0 || string(a.Graph) == "null" {
		return evaluate.Request{}, evaluate.Options{}, badArgs("graph is required")
	}
	req := evaluate.Request{Operation: a.Operation, Graph: a.Graph}
	opts := evaluate.Options{
		Timeout:       time.Duration(a.TimeoutMs) * time.Millisecond,
		StrictTimeout: a.Strict,
	}
	return req, opts, nil
}

func (s *Server) evaluate(ctx context.Context, raw json.RawMessage) (any, error) {
	var args evaluateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	req, opts, err := args.request()
	if err != nil {
		return nil, err
	}
	return s.deps.Evaluator.Evaluate(ctx, req, opts)
}

type batchItem struct {
	ID    string     `json:"id"`
	Value any        `json:"value,omitempty"`
	Error *errorBody `json:"error,omitempty"`
	Wave  int        `json:"wave"`
}

func (s *Server) evaluateBatch(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Requests []evaluateArgs `json:"requests"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if len(args.Requests) == 0 {
		return nil, badArgs("requests is required")
	}

	batch := evaluate.NewBatch(s.deps.BatchChunkSize)
	ids := make([]string, len(args.Requests))
	for i, a := range args.Requests {
		id := a.ID
		if id == "" {
			id = fmt.Sprintf("%d", i)
		}
		req, opts, err := a.request()
		if err != nil {
			return nil, badArgs(fmt.Sprintf("request %s: %s", id, err))
		}
		if err := batch.Add(id, func(ctx context.Context) (any, error) {
			return s.deps.Evaluator.Evaluate(ctx, req, opts)
		}); err != nil {
			return nil, badArgs(err.Error())
		}
		ids[i] = id
	}

	results, err := batch.Process(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]batchItem, len(ids))
	for i, id := range ids {
		r := results[id]
		out[i] = batchItem{ID: id, Value: r.Value, Wave: r.Wave}
		if r.Err != nil {
			_, body := classify(r.Err)
			out[i].Error = &body
		}
	}
	return out, nil
}

type summarizeArgs struct {
	aoiArgs
	Collection string  `json:"collection"`
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Scale      float64 `json:"scale"`
}

type summary struct {
	Collection string `json:"collection"`
	Level      string `json:"level"`
	Value      any    `json:"value"`
}

// summarizeCollection reduces an image collection over an AOI, falling back
// to a coarser scale and then to a plain image count.
func (s *Server) summarizeCollection(ctx context.Context, raw json.RawMessage) (any, error) {
	var args summarizeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Collection == "" {
		return nil, badArgs("collection is required")
	}
	if (args.Start == "") != (args.End == "") {
		return nil, badArgs("start and end must be given together")
	}
	if args.Scale <= 0 {
		args.Scale = defaultSummaryScale
	}

	g, err := s.normalize(ctx, args.aoiArgs)
	if err != nil {
		return nil, err
	}
	shape, err := g.GeoJSON()
	if err != nil {
		return nil, eris.Wrap(err, "server: encode aoi")
	}

	region := platform.GeoJSONGeometry(shape)
	images := platform.FilterBounds(platform.LoadImageCollection(args.Collection), region)
	if args.Start != "" {
		images = platform.FilterDate(images, args.Start, args.End)
	}

	load := func(level, operation string, graph *platform.Node) evaluate.Loader {
		return func(ctx context.Context) (any, error) {
			v, err := s.deps.Evaluator.Evaluate(ctx,
				evaluate.Request{Operation: operation, Graph: graph},
				evaluate.Options{StrictTimeout: true},
			)
			if err != nil {
				return nil, err
			}
			return summary{Collection: args.Collection, Level: level, Value: v}, nil
		}
	}

	mosaic := platform.Mosaic(images)
	return s.deps.Progressive.Load(ctx,
		load(SummaryFull, "reduceRegion", platform.ReduceRegion(mosaic, region, args.Scale)),
		load(SummaryCoarse, "reduceRegion", platform.ReduceRegion(mosaic, region, args.Scale*coarseScaleFactor)),
		load(SummaryCount, "size", platform.Size(images)),
	)
}

type cacheStatsResult struct {
	Geometry   cache.Stats    `json:"geometry"`
	Evaluation evaluate.Stats `json:"evaluation"`
}

func (s *Server) cacheStats(context.Context, json.RawMessage) (any, error) {
	return cacheStatsResult{
		Geometry:   s.deps.Resolver.Cache().Stats(),
		Evaluation: s.deps.Evaluator.Stats(),
	}, nil
}

func (s *Server) cacheClear(context.Context, json.RawMessage) (any, error) {
	s.deps.Resolver.Cache().Clear()
	s.deps.Evaluator.Clear()
	return map[string]bool{"cleared": true}, nil
}
