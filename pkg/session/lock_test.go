package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
)

type nopStore struct{}

func (nopStore) Get(context.Context, string) (*domain.Session, error) {
	return nil, domain.ErrSessionNotFound
}
func (nopStore) Save(context.Context, *domain.Session) error { return nil }
func (nopStore) Delete(context.Context, string) error        { return nil }
func (nopStore) List(context.Context) ([]string, error)      { return nil, nil }

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(nopStore{})
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		s := domain.NewSession(fmt.Sprintf("contact-%d", i), "conn")
		_ = mgr.Save(ctx, s)
		_ = mgr.Delete(ctx, s.ID)
	}

	assert.Empty(t, mgr.locks, "locks must be released once no caller holds them")
}
