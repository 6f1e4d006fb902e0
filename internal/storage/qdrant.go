package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"scoped-memory-mcp/internal/config"
	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/scope"
)

const (
	defaultQdrantCollection = "scoped_memories"
	scrollPageSize          = 1000
	connectionStatusError   = "error"

	payloadUserID     = "user_id"
	payloadText       = "text"
	payloadMemoryType = "memory_type"
	payloadImportance = "importance"
	payloadTags       = "tags"
	payloadMetadata   = "metadata"
	payloadCreatedAt  = "created_at"
	payloadUpdatedAt  = "updated_at"
	payloadExpiresAt  = "expires_at"
)

// QdrantStore implements MemoryStore on a Qdrant collection. Scope tags are a
// keyword list in the payload; filters become Must and Should conditions on it.
type QdrantStore struct {
	client         *qdrant.Client
	config         *config.QdrantConfig
	metrics        *metricsRecorder
	collectionName string
	vectorSize     int
	now            func() time.Time
}

// NewQdrantStore creates a new Qdrant memory store
func NewQdrantStore(cfg *config.QdrantConfig, vectorSize int) *QdrantStore {
	collectionName := cfg.Collection
	if collectionName == "" {
		collectionName = defaultQdrantCollection
	}
	return &QdrantStore{
		config:         cfg,
		collectionName: collectionName,
		vectorSize:     vectorSize,
		metrics:        newMetricsRecorder(),
		now:            time.Now,
	}
}

// Initialize connects and creates the collection if it doesn't exist
func (qs *QdrantStore) Initialize(ctx context.Context) (err error) {
	defer qs.metrics.observe("initialize", time.Now(), &err)

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   qs.config.Host,
		Port:   qs.config.Port,
		APIKey: qs.config.APIKey,
		UseTLS: qs.config.UseTLS,
	})
	if err != nil {
		qs.metrics.setStatus(connectionStatusError)
		return fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	qs.client = client

	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		qs.metrics.setStatus(connectionStatusError)
		return fmt.Errorf("failed to list collections: %w", err)
	}

	exists := false
	for _, name := range collections {
		if name == qs.collectionName {
			exists = true
			break
		}
	}

	if !exists {
		err = qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: qs.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(qs.vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			qs.metrics.setStatus(connectionStatusError)
			return fmt.Errorf("failed to create collection %s: %w", qs.collectionName, err)
		}
		logging.Info("Created Qdrant collection", "collection", qs.collectionName, "vector_size", qs.vectorSize)
	}

	qs.metrics.setStatus("connected")
	logging.Info("Qdrant collection initialized", "collection", qs.collectionName)
	return nil
}

// Remember upserts a memory as a point
func (qs *QdrantStore) Remember(ctx context.Context, m Memory) (err error) {
	defer qs.metrics.observe("remember", time.Now(), &err)

	if len(m.Embedding) == 0 {
		return fmt.Errorf("memory must have an embedding before storing")
	}
	point, err := memoryToPoint(m)
	if err != nil {
		return err
	}
	_, err = qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qs.collectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to store memory in Qdrant: %w", err)
	}
	logging.Debug("Stored memory in Qdrant", "id", m.ID, "type", m.Type)
	return nil
}

// Recall runs a filtered similarity query
func (qs *QdrantStore) Recall(ctx context.Context, q RecallQuery) (hits []ScoredMemory, err error) {
	defer qs.metrics.observe("recall", time.Now(), &err)

	filter := buildFilter(q.Filter, q.Type, q.MinImportance, q.Since, qs.now())

	if len(q.Embedding) == 0 {
		list, err := qs.scroll(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, m := range list {
			if q.matches(m, qs.now()) {
				hits = append(hits, ScoredMemory{Memory: m, Score: m.Importance / 10})
			}
		}
		return rank(hits, q.Limit), nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	points, err := qs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qs.collectionName,
		Query:          qdrant.NewQuery(q.Embedding...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search in Qdrant: %w", err)
	}

	hits = make([]ScoredMemory, 0, len(points))
	for _, point := range points {
		m, convErr := payloadToMemory(pointIDToString(point.GetId()), point.GetPayload())
		if convErr != nil {
			logging.Error("Failed to convert point to memory", "error", convErr, "point_id", point.GetId())
			continue
		}
		// the store filter is authoritative, but expiry and clauses are re-checked locally
		if !q.matches(m, qs.now()) {
			continue
		}
		hits = append(hits, ScoredMemory{Memory: m, Score: float64(point.GetScore())})
	}
	return rank(hits, q.Limit), nil
}

// Get retrieves a memory by id
func (qs *QdrantStore) Get(ctx context.Context, id string) (m *Memory, err error) {
	defer qs.metrics.observe("get", time.Now(), &err)
	return qs.get(ctx, id)
}

func (qs *QdrantStore) get(ctx context.Context, id string) (*Memory, error) {
	// point ids are UUIDs; anything else cannot name a stored memory
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	points, err := qs.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: qs.collectionName,
		Ids:            []*qdrant.PointId{stringToPointID(id)},
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get memory from Qdrant: %w", err)
	}
	if len(points) == 0 {
		return nil, ErrNotFound
	}

	point := points[0]
	m, err := payloadToMemory(pointIDToString(point.GetId()), point.GetPayload())
	if err != nil {
		return nil, fmt.Errorf("failed to convert point to memory: %w", err)
	}
	if vectors := point.GetVectors(); vectors != nil {
		if vector := vectors.GetVector(); vector != nil {
			m.Embedding = vector.GetData()
		}
	}
	if !m.Live(qs.now()) {
		return nil, ErrNotFound
	}
	return &m, nil
}

// Update reads the point, applies the patch and upserts it back
func (qs *QdrantStore) Update(ctx context.Context, id string, p Patch) (m *Memory, err error) {
	defer qs.metrics.observe("update", time.Now(), &err)

	m, err = qs.get(ctx, id)
	if err != nil {
		return nil, err
	}
	applyPatch(m, p, qs.now())

	point, err := memoryToPoint(*m)
	if err != nil {
		return nil, err
	}
	if _, err = qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qs.collectionName,
		Points:         []*qdrant.PointStruct{point},
	}); err != nil {
		return nil, fmt.Errorf("failed to update memory in Qdrant: %w", err)
	}
	return m, nil
}

// Delete removes a memory by id
func (qs *QdrantStore) Delete(ctx context.Context, id string) (err error) {
	defer qs.metrics.observe("delete", time.Now(), &err)

	if _, err = qs.get(ctx, id); err != nil {
		return err
	}
	_, err = qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qs.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{stringToPointID(id)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete memory from Qdrant: %w", err)
	}
	logging.Debug("Deleted memory from Qdrant", "id", id)
	return nil
}

// List scrolls every filtered point and sorts them locally; Qdrant scroll has
// no ordering by payload without a range index.
func (qs *QdrantStore) List(ctx context.Context, q ListQuery) (out []Memory, err error) {
	defer qs.metrics.observe("list", time.Now(), &err)

	filter := buildFilter(q.Filter, q.Type, q.MinImportance, q.Since, qs.now())
	all, err := qs.scroll(ctx, filter)
	if err != nil {
		return nil, err
	}
	out = make([]Memory, 0, len(all))
	for _, m := range all {
		if q.matches(m, qs.now()) {
			out = append(out, m)
		}
	}
	sortMemories(out, q.SortBy, q.Descending)
	return truncate(out, q.Limit), nil
}

func (qs *QdrantStore) scroll(ctx context.Context, filter *qdrant.Filter) ([]Memory, error) {
	var out []Memory
	err := scrollPages(ctx, func(ctx context.Context, offset *qdrant.PointId) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error) {
		resp, err := qs.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: qs.collectionName,
			Filter:         filter,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, nil, err
		}
		return resp.GetResult(), resp.GetNextPageOffset(), nil
	}, func(point *qdrant.RetrievedPoint) {
		m, err := payloadToMemory(pointIDToString(point.GetId()), point.GetPayload())
		if err != nil {
			logging.Warn("Skipping unreadable point", "error", err, "point_id", point.GetId())
			return
		}
		out = append(out, m)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll memories: %w", err)
	}
	return out, nil
}

type scrollPageFunc func(ctx context.Context, offset *qdrant.PointId) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)

// scrollPages follows next-page offsets until the collection is exhausted,
// so sorting and statistics always see every matching point.
func scrollPages(ctx context.Context, page scrollPageFunc, visit func(*qdrant.RetrievedPoint)) error {
	var offset *qdrant.PointId
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		points, next, err := page(ctx, offset)
		if err != nil {
			return err
		}
		for _, p := range points {
			visit(p)
		}
		if next == nil || len(points) == 0 {
			return nil
		}
		offset = next
	}
}

// HealthCheck verifies the connection to Qdrant
func (qs *QdrantStore) HealthCheck(ctx context.Context) (err error) {
	defer qs.metrics.observe("health_check", time.Now(), &err)

	if qs.client == nil {
		return fmt.Errorf("qdrant client not initialized")
	}
	if _, err = qs.client.GetCollectionInfo(ctx, qs.collectionName); err != nil {
		qs.metrics.setStatus(connectionStatusError)
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	qs.metrics.setStatus("healthy")
	return nil
}

// Metrics returns a snapshot of operation metrics
func (qs *QdrantStore) Metrics() StorageMetrics { return qs.metrics.snapshot() }

// Close closes the connection to Qdrant
func (qs *QdrantStore) Close() error {
	if qs.client == nil {
		return nil
	}
	qs.metrics.setStatus("closed")
	logging.Info("Qdrant connection closed")
	return qs.client.Close()
}

func memoryToPoint(m Memory) (*qdrant.PointStruct, error) {
	payload := map[string]*qdrant.Value{
		payloadUserID:     stringToValue(m.UserID),
		payloadText:       stringToValue(m.Text),
		payloadMemoryType: stringToValue(string(m.Type)),
		payloadImportance: {Kind: &qdrant.Value_DoubleValue{DoubleValue: m.Importance}},
		payloadTags:       stringSliceToValue(m.Tags),
		payloadCreatedAt:  int64ToValue(m.CreatedAt.UnixMilli()),
		payloadUpdatedAt:  int64ToValue(m.UpdatedAt.UnixMilli()),
		payloadExpiresAt:  int64ToValue(0),
	}
	if m.ExpiresAt != nil {
		payload[payloadExpiresAt] = int64ToValue(m.ExpiresAt.UnixMilli())
	}
	if len(m.Metadata) > 0 {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		payload[payloadMetadata] = stringToValue(string(raw))
	}

	return &qdrant.PointStruct{
		Id:      stringToPointID(m.ID),
		Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: m.Embedding}}},
		Payload: payload,
	}, nil
}

func payloadToMemory(id string, payload map[string]*qdrant.Value) (Memory, error) {
	created, ok := payload[payloadCreatedAt]
	if !ok {
		return Memory{}, fmt.Errorf("missing %s in payload", payloadCreatedAt)
	}

	m := Memory{
		ID:         id,
		UserID:     getString(payload, payloadUserID),
		Text:       getString(payload, payloadText),
		Type:       scope.MemoryType(getString(payload, payloadMemoryType)),
		Importance: payload[payloadImportance].GetDoubleValue(),
		Tags:       getStringSlice(payload, payloadTags),
		CreatedAt:  time.UnixMilli(created.GetIntegerValue()).UTC(),
		UpdatedAt:  time.UnixMilli(payload[payloadUpdatedAt].GetIntegerValue()).UTC(),
	}
	if exp := payload[payloadExpiresAt].GetIntegerValue(); exp > 0 {
		t := time.UnixMilli(exp).UTC()
		m.ExpiresAt = &t
	}
	if raw := getString(payload, payloadMetadata); raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Metadata); err != nil {
			return Memory{}, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return m, nil
}

// buildFilter translates a scope filter into Qdrant conditions: every Must tag
// is a keyword match on the tag list; AnyOf clauses become Should sub-filters.
func buildFilter(f scope.Filter, t scope.MemoryType, minImportance float64, since, now time.Time) *qdrant.Filter {
	must := make([]*qdrant.Condition, 0, len(f.Must)+4)
	for _, tag := range f.Must {
		must = append(must, keywordCondition(payloadTags, tag))
	}

	if len(f.AnyOf) > 0 {
		should := make([]*qdrant.Condition, 0, len(f.AnyOf))
		for _, clause := range f.AnyOf {
			all := make([]*qdrant.Condition, 0, len(clause.All))
			for _, tag := range clause.All {
				all = append(all, keywordCondition(payloadTags, tag))
			}
			should = append(should, filterCondition(&qdrant.Filter{Must: all}))
		}
		must = append(must, filterCondition(&qdrant.Filter{Should: should}))
	}

	if t != "" {
		must = append(must, keywordCondition(payloadMemoryType, string(t)))
	}
	if minImportance > 0 {
		must = append(must, rangeCondition(payloadImportance, &qdrant.Range{Gte: qdrant.PtrOf(minImportance)}))
	}
	if !since.IsZero() {
		must = append(must, rangeCondition(payloadCreatedAt, &qdrant.Range{Gte: qdrant.PtrOf(float64(since.UnixMilli()))}))
	}

	// not expired: no expiry recorded, or expiry in the future
	must = append(must, filterCondition(&qdrant.Filter{Should: []*qdrant.Condition{
		{ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{
			Key:   payloadExpiresAt,
			Match: &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: 0}},
		}}},
		rangeCondition(payloadExpiresAt, &qdrant.Range{Gt: qdrant.PtrOf(float64(now.UnixMilli()))}),
	}}))

	return &qdrant.Filter{Must: must}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func rangeCondition(key string, r *qdrant.Range) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{Key: key, Range: r},
		},
	}
}

func filterCondition(f *qdrant.Filter) *qdrant.Condition {
	return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Filter{Filter: f}}
}

func stringToValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func int64ToValue(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func stringSliceToValue(slice []string) *qdrant.Value {
	values := make([]*qdrant.Value, len(slice))
	for i, s := range slice {
		values[i] = stringToValue(s)
	}
	return &qdrant.Value{Kind: &qdrant.Value_ListValue{
		ListValue: &qdrant.ListValue{Values: values},
	}}
}

func stringToPointID(s string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: s}}
}

func pointIDToString(id *qdrant.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func getString(payload map[string]*qdrant.Value, key string) string {
	if value, ok := payload[key]; ok {
		return value.GetStringValue()
	}
	return ""
}

func getStringSlice(payload map[string]*qdrant.Value, key string) []string {
	value, ok := payload[key]
	if !ok {
		return nil
	}
	values := value.GetListValue().GetValues()
	result := make([]string, len(values))
	for i, v := range values {
		result[i] = v.GetStringValue()
	}
	return result
}
