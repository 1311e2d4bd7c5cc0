package roles

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/procurement-approvals/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ResolveRoleMethod: полное имя метода внешнего справочника.
// Запрос {"id": ...}, ответ {"id", "title", "tier"} в google.protobuf.Struct.
const ResolveRoleMethod = "/directory.v1.DirectoryService/ResolveRole"

// DirectoryClient ходит во внешний справочник ролей по gRPC.
type DirectoryClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewDirectoryClient(conn grpc.ClientConnInterface, timeout time.Duration) *DirectoryClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &DirectoryClient{conn: conn, timeout: timeout}
}

func (c *DirectoryClient) ResolveRole(ctx context.Context, id string) (domain.Role, error) {
	// 1. Собираем запрос
	req, err := structpb.NewStruct(map[string]interface{}{"id": id})
	if err != nil {
		return domain.Role{}, fmt.Errorf("failed to create proto struct: %w", err)
	}

	// 2. Таймаут на уровне вызова
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// 3. Вызов
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, ResolveRoleMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Role{}, fmt.Errorf("%w: %q", domain.ErrUnknownRole, id)
		}
		return domain.Role{}, fmt.Errorf("directory call failed: %w", err)
	}

	// 4. Разбираем ответ
	fields := resp.GetFields()
	role := domain.Role{
		ID:    fields["id"].GetStringValue(),
		Title: fields["title"].GetStringValue(),
		Tier:  domain.RoleTier(fields["tier"].GetStringValue()),
	}
	if role.ID == "" {
		role.ID = id
	}
	if !role.Tier.Valid() {
		return domain.Role{}, fmt.Errorf("directory returned invalid tier %q for role %s", role.Tier, id)
	}
	return role, nil
}
