package memory_test

import (
	"testing"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/ports"
)

func TestStore_Contract(t *testing.T) {
	ports.RunSessionStoreContract(t, memory.NewStore())
}

func TestRepository_Contract(t *testing.T) {
	ports.RunFlowRepositoryContract(t, memory.NewRepository(ports.ContractFlows()...))
}
