package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"qsearch/internal/vector"
)

const (
	payloadText       = "text"
	payloadSource     = "source"
	payloadChunkIndex = "chunk_index"

	maxSearchLimit = 100
)

// Store implements vector.Store against a Qdrant instance over gRPC.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

func NewStore(host string, port int, collection string) (*Store, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// EnsureCollection creates the collection if absent and verifies the
// configured dimension of an existing one. A dimension mismatch is
// vector.ErrDimensionMismatch: a setup problem the caller must not retry.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	for _, c := range list.GetCollections() {
		if c.GetName() != s.collection {
			continue
		}
		info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
		if err != nil {
			return fmt.Errorf("get collection %q: %w", s.collection, err)
		}
		params := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
		if params == nil {
			return fmt.Errorf("collection %q has no vector params", s.collection)
		}
		if params.GetSize() != uint64(dimension) {
			return fmt.Errorf("%w: collection %q has dimension %d, expected %d",
				vector.ErrDimensionMismatch, s.collection, params.GetSize(), dimension)
		}
		return nil
	}

	slog.InfoContext(ctx, "creating qdrant collection", "collection", s.collection, "dimension", dimension)
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", s.collection, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]*pb.Value{
			payloadText:       {Kind: &pb.Value_StringValue{StringValue: p.Text}},
			payloadSource:     {Kind: &pb.Value_StringValue{StringValue: p.Source}},
			payloadChunkIndex: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.ChunkIndex)}},
		}
		for k, v := range p.Metadata {
			payload[k] = toValue(v)
		}
		structs[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         structs,
	})
	return err
}

func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: sourceFilter(source),
			},
		},
	})
	return err
}

func (s *Store) Search(ctx context.Context, queryVector []float32, params vector.SearchParams) ([]vector.ScoredPoint, error) {
	limit := params.Limit
	if limit < 1 {
		limit = 1
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         queryVector,
		Limit:          uint64(limit),
		ScoreThreshold: params.ScoreThreshold,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if f := metadataFilter(params.Filters); f != nil {
		req.Filter = f
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]vector.ScoredPoint, len(resp.GetResult()))
	for i, pt := range resp.GetResult() {
		sp := vector.ScoredPoint{
			ID:       pt.GetId().GetNum(),
			Score:    pt.GetScore(),
			Metadata: make(map[string]any),
		}
		for k, v := range pt.GetPayload() {
			switch k {
			case payloadText:
				sp.Text = v.GetStringValue()
			case payloadSource:
				sp.Source = v.GetStringValue()
			case payloadChunkIndex:
				sp.ChunkIndex = int(v.GetIntegerValue())
			default:
				sp.Metadata[k] = fromValue(v)
			}
		}
		results[i] = sp
	}

	sortScored(results)
	return results, nil
}

func (s *Store) CountPoints(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, err
	}
	return resp.GetResult().GetCount(), nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// sortScored orders results by descending score, ties broken by ascending
// point id so identical stores answer identically.
func sortScored(results []vector.ScoredPoint) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

func sourceFilter(source string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   payloadSource,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: source}},
				},
			},
		}},
	}
}

// metadataFilter converts a scalar key->value map into a conjunction of
// exact-match conditions.
func metadataFilter(filters map[string]any) *pb.Filter {
	if len(filters) == 0 {
		return nil
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]*pb.Condition, 0, len(keys))
	for _, k := range keys {
		var match *pb.Match
		switch v := filters[k].(type) {
		case string:
			match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}}
		case bool:
			match = &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: v}}
		case int:
			match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(v)}}
		case int64:
			match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: v}}
		case float64:
			// JSON numbers decode as float64; whole numbers match integer
			// payloads, anything else has no exact-match semantics in the
			// store and is skipped.
			if v == float64(int64(v)) {
				match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(v)}}
			} else {
				continue
			}
		default:
			continue
		}
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{Key: k, Match: match},
			},
		})
	}

	if len(conditions) == 0 {
		return nil
	}
	return &pb.Filter{Must: conditions}
}

func toValue(v any) *pb.Value {
	switch val := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(val)}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	default:
		return nil
	}
}

var _ vector.Store = (*Store)(nil)
