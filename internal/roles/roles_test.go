package roles

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/procurement-approvals/internal/domain"
	"github.com/xela07ax/procurement-approvals/internal/infra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestRegistry(t *testing.T) {
	r, err := NewRegistry([]domain.Role{
		{ID: "quantity_surveyor", Title: "Quantity Surveyor", Tier: domain.TierSupport},
		{ID: domain.RoleEstimation, Title: "Cost Estimation", Tier: domain.TierOperations},
	})
	require.NoError(t, err)

	role, err := r.ResolveRole(context.Background(), domain.RoleTechnicalDirector)
	require.NoError(t, err)
	assert.Equal(t, domain.TierManagement, role.Tier)

	role, err = r.ResolveRole(context.Background(), domain.RoleEstimation)
	require.NoError(t, err)
	assert.Equal(t, "Cost Estimation", role.Title)

	_, err = r.ResolveRole(context.Background(), "janitor")
	assert.ErrorIs(t, err, domain.ErrUnknownRole)

	assert.Len(t, r.Roles(), len(DefaultRoles())+1)

	_, err = NewRegistry([]domain.Role{{ID: "x", Tier: "executive"}})
	assert.Error(t, err)
}

type fakeDirectory struct {
	roles map[string]domain.Role
}

func (f *fakeDirectory) resolve(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["id"].GetStringValue()
	role, ok := f.roles[id]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "role %s not found", id)
	}
	return structpb.NewStruct(map[string]interface{}{
		"id":    role.ID,
		"title": role.Title,
		"tier":  string(role.Tier),
	})
}

var directoryDesc = grpc.ServiceDesc{
	ServiceName: "directory.v1.DirectoryService",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "ResolveRole",
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
			in := &structpb.Struct{}
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(*fakeDirectory).resolve(ctx, in)
		},
	}},
}

func startDirectory(t *testing.T, fake *fakeDirectory) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&directoryDesc, fake)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDirectoryClient(t *testing.T) {
	fake := &fakeDirectory{roles: map[string]domain.Role{
		"quantity_surveyor": {ID: "quantity_surveyor", Title: "Quantity Surveyor", Tier: domain.TierSupport},
	}}
	client := NewDirectoryClient(startDirectory(t, fake), time.Second)

	role, err := client.ResolveRole(context.Background(), "quantity_surveyor")
	require.NoError(t, err)
	assert.Equal(t, "Quantity Surveyor", role.Title)
	assert.Equal(t, domain.TierSupport, role.Tier)

	_, err = client.ResolveRole(context.Background(), "janitor")
	assert.ErrorIs(t, err, domain.ErrUnknownRole)
}

type stubResolver struct {
	role  domain.Role
	err   error
	calls int
}

func (s *stubResolver) ResolveRole(context.Context, string) (domain.Role, error) {
	s.calls++
	return s.role, s.err
}

func TestCachedResolver_FallsBackWhenDirectoryDown(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)
	down := &stubResolver{err: errors.New("connection refused")}

	r := NewCachedResolver(down, registry, nil, time.Minute, zap.NewNop())
	role, err := r.ResolveRole(context.Background(), domain.RoleProcurement)
	require.NoError(t, err)
	assert.Equal(t, "Procurement", role.Title)
	assert.Equal(t, 1, down.calls)
}

func TestCachedResolver_DirectoryAnswerIsFinal(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)
	dir := &stubResolver{err: domain.ErrUnknownRole}

	r := NewCachedResolver(dir, registry, nil, time.Minute, zap.NewNop())
	_, err = r.ResolveRole(context.Background(), domain.RoleProcurement)
	assert.ErrorIs(t, err, domain.ErrUnknownRole)
}

func TestCachedResolver_CacheFailuresAreLoggedNotFatal(t *testing.T) {
	// адрес, на котором никто не слушает
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	core, logs := observer.New(zapcore.WarnLevel)
	dir := &stubResolver{role: domain.Role{ID: "buyer", Title: "Buyer", Tier: domain.TierSupport}}
	r := NewCachedResolver(dir, &stubResolver{err: domain.ErrUnknownRole}, rdb, time.Minute, zap.New(core))

	role, err := r.ResolveRole(context.Background(), "buyer")
	require.NoError(t, err)
	assert.Equal(t, "Buyer", role.Title)
	assert.Equal(t, 1, dir.calls)

	assert.Equal(t, 1, logs.FilterMessage("role cache read failed").Len())
	writes := logs.FilterMessage("role cache write failed").All()
	require.Len(t, writes, 1)
	assert.Equal(t, "buyer", writes[0].ContextMap()["role"])
	assert.Zero(t, logs.FilterMessage("role cache encode failed").Len())
}

func TestCachedResolver_RedisCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	id := "cache_check_role"
	require.NoError(t, rdb.Del(ctx, infra.RoleCacheKey(id)).Err())

	dir := &stubResolver{role: domain.Role{ID: id, Title: "Cache Check", Tier: domain.TierSupport}}
	r := NewCachedResolver(dir, &stubResolver{err: domain.ErrUnknownRole}, rdb, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		role, err := r.ResolveRole(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Cache Check", role.Title)
	}
	assert.Equal(t, 1, dir.calls)
}
