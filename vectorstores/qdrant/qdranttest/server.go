// Package qdranttest provides an in-memory Qdrant served over a loopback
// gRPC listener, for tests of code built on the Qdrant client.
package qdranttest

import (
	"context"
	"net"
	"slices"
	"sync"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server implements the Points and Collections services in memory. Search
// scores every match 0.9 and returns matches in insertion order.
type Server struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	upserts     int
	failUpserts int
	failCode    codes.Code
	lastSearch  *qdrant.SearchPoints
	deletes     []*qdrant.DeletePoints

	addr string
}

type fakeCollection struct {
	dimension uint64
	points    map[string]*qdrant.PointStruct
	order     []string
}

// Start serves a new Server until the test ends.
func Start(t testing.TB) *Server {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &Server{
		collections: make(map[string]*fakeCollection),
		addr:        lis.Addr().String(),
	}
	srv := grpc.NewServer()
	qdrant.RegisterPointsServer(srv, &fakePoints{f: f})
	qdrant.RegisterCollectionsServer(srv, &fakeCollections{f: f})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return f
}

// URL is the address to configure the client with.
func (f *Server) URL() string {
	return "http://" + f.addr
}

// AddCollection creates an empty collection.
func (f *Server) AddCollection(name string, dimension uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[name] = &fakeCollection{dimension: dimension, points: map[string]*qdrant.PointStruct{}}
}

// Points returns the stored points of a collection in insertion order.
func (f *Server) Points(name string) []*qdrant.PointStruct {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[name]
	if !ok {
		return nil
	}
	out := make([]*qdrant.PointStruct, 0, len(c.order))
	for _, id := range c.order {
		if p, ok := c.points[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// FailNextUpserts makes the next n upserts fail with code.
func (f *Server) FailNextUpserts(n int, code codes.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpserts = n
	f.failCode = code
}

// LastSearch returns the most recent search request.
func (f *Server) LastSearch() *qdrant.SearchPoints {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSearch
}

// UpsertCount reports how many upsert requests were received.
func (f *Server) UpsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// Deletes returns the point delete requests received so far.
func (f *Server) Deletes() []*qdrant.DeletePoints {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*qdrant.DeletePoints(nil), f.deletes...)
}

// matches evaluates the must conditions of filter. Condition kinds the
// server does not know never match.
func matches(filter *qdrant.Filter, payload map[string]*qdrant.Value) bool {
	for _, cond := range filter.GetMust() {
		if !matchCondition(cond, payload) {
			return false
		}
	}
	return true
}

func matchCondition(cond *qdrant.Condition, payload map[string]*qdrant.Value) bool {
	if isEmpty := cond.GetIsEmpty(); isEmpty != nil {
		got, ok := payload[isEmpty.GetKey()]
		if !ok {
			return true
		}
		switch v := got.GetKind().(type) {
		case *qdrant.Value_NullValue:
			return true
		case *qdrant.Value_ListValue:
			return len(v.ListValue.GetValues()) == 0
		}
		return false
	}

	field := cond.GetField()
	if field == nil {
		return false
	}
	got, ok := payload[field.GetKey()]
	if !ok {
		return false
	}
	if r := field.GetRange(); r != nil {
		n, ok := number(got)
		return ok &&
			(r.Gte == nil || n >= *r.Gte) && (r.Lte == nil || n <= *r.Lte) &&
			(r.Gt == nil || n > *r.Gt) && (r.Lt == nil || n < *r.Lt)
	}

	switch m := field.GetMatch().GetMatchValue().(type) {
	case *qdrant.Match_Keyword:
		str, ok := got.GetKind().(*qdrant.Value_StringValue)
		return ok && str.StringValue == m.Keyword
	case *qdrant.Match_Keywords:
		str, ok := got.GetKind().(*qdrant.Value_StringValue)
		return ok && slices.Contains(m.Keywords.GetStrings(), str.StringValue)
	case *qdrant.Match_Integer:
		i, ok := got.GetKind().(*qdrant.Value_IntegerValue)
		return ok && i.IntegerValue == m.Integer
	case *qdrant.Match_Integers:
		i, ok := got.GetKind().(*qdrant.Value_IntegerValue)
		return ok && slices.Contains(m.Integers.GetIntegers(), i.IntegerValue)
	case *qdrant.Match_Boolean:
		b, ok := got.GetKind().(*qdrant.Value_BoolValue)
		return ok && b.BoolValue == m.Boolean
	}
	return false
}

func number(v *qdrant.Value) (float64, bool) {
	switch n := v.GetKind().(type) {
	case *qdrant.Value_IntegerValue:
		return float64(n.IntegerValue), true
	case *qdrant.Value_DoubleValue:
		return n.DoubleValue, true
	}
	return 0, false
}

type fakePoints struct {
	qdrant.UnimplementedPointsServer
	f *Server
}

func (p *fakePoints) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.PointsOperationResponse, error) {
	f := p.f
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.failUpserts > 0 {
		f.failUpserts--
		return nil, status.Error(f.failCode, "injected failure")
	}
	c, ok := f.collections[req.GetCollectionName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "collection not found")
	}
	for _, point := range req.GetPoints() {
		id := point.GetId().GetUuid()
		if _, exists := c.points[id]; !exists {
			c.order = append(c.order, id)
		}
		c.points[id] = point
	}
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

func (p *fakePoints) Search(_ context.Context, req *qdrant.SearchPoints) (*qdrant.SearchResponse, error) {
	f := p.f
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSearch = req
	c, ok := f.collections[req.GetCollectionName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "collection not found")
	}
	var result []*qdrant.ScoredPoint
	for _, id := range c.order {
		point, ok := c.points[id]
		if !ok || !matches(req.GetFilter(), point.GetPayload()) {
			continue
		}
		if uint64(len(result)) >= req.GetLimit() {
			break
		}
		result = append(result, &qdrant.ScoredPoint{Id: point.GetId(), Payload: point.GetPayload(), Score: 0.9})
	}
	return &qdrant.SearchResponse{Result: result}, nil
}

func (p *fakePoints) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.PointsOperationResponse, error) {
	f := p.f
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, req)
	c, ok := f.collections[req.GetCollectionName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "collection not found")
	}
	for id, point := range c.points {
		if filter := req.GetPoints().GetFilter(); filter != nil && matches(filter, point.GetPayload()) {
			delete(c.points, id)
		}
	}
	for _, id := range req.GetPoints().GetPoints().GetIds() {
		delete(c.points, id.GetUuid())
	}
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

type fakeCollections struct {
	qdrant.UnimplementedCollectionsServer
	f *Server
}

func (c *fakeCollections) Get(_ context.Context, req *qdrant.GetCollectionInfoRequest) (*qdrant.GetCollectionInfoResponse, error) {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[req.GetCollectionName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "collection not found")
	}
	count := uint64(len(col.points))
	return &qdrant.GetCollectionInfoResponse{Result: &qdrant.CollectionInfo{
		PointsCount: &count,
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: &qdrant.VectorsConfig{Config: &qdrant.VectorsConfig_Params{
					Params: &qdrant.VectorParams{Size: col.dimension, Distance: qdrant.Distance_Cosine},
				}},
			},
		},
	}}, nil
}

func (c *fakeCollections) List(_ context.Context, _ *qdrant.ListCollectionsRequest) (*qdrant.ListCollectionsResponse, error) {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*qdrant.CollectionDescription
	for name := range f.collections {
		out = append(out, &qdrant.CollectionDescription{Name: name})
	}
	return &qdrant.ListCollectionsResponse{Collections: out}, nil
}

func (c *fakeCollections) Create(_ context.Context, req *qdrant.CreateCollection) (*qdrant.CollectionOperationResponse, error) {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[req.GetCollectionName()]; ok {
		return nil, status.Error(codes.AlreadyExists, "collection exists")
	}
	f.collections[req.GetCollectionName()] = &fakeCollection{
		dimension: req.GetVectorsConfig().GetParams().GetSize(),
		points:    map[string]*qdrant.PointStruct{},
	}
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}

func (c *fakeCollections) Delete(_ context.Context, req *qdrant.DeleteCollection) (*qdrant.CollectionOperationResponse, error) {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[req.GetCollectionName()]; !ok {
		return &qdrant.CollectionOperationResponse{Result: false}, nil
	}
	delete(f.collections, req.GetCollectionName())
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}
